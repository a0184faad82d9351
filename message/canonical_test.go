package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	_ "github.com/shinkai-run/shinkai-node/internal/cryptoinit"
)

func newTestMessage(t *testing.T, sender, recipient string) *Message {
	t.Helper()
	return &Message{
		Body: Body{
			Inner: &ShinkaiBody{
				MessageData: MessageData{
					Content: "hello",
					Schema:  SchemaTextContent,
				},
				InternalMetadata: InternalMetadata{
					InboxName:        ChatInboxName(sender, recipient),
					EncryptionMethod: EncryptionNone,
				},
			},
		},
		ExternalMetadata: ExternalMetadata{
			Sender:        sender,
			Recipient:     recipient,
			ScheduledTime: time.Unix(0, 0).UTC(),
		},
		Encryption: EncryptionNone,
		Version:    CurrentVersion,
	}
}

func TestSignAndVerifyOuter(t *testing.T) {
	signer, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeEd25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")

	require.NoError(t, SignOuter(msg, signer))
	assert.NotEmpty(t, msg.ExternalMetadata.Signature)
	assert.NoError(t, VerifyOuter(msg, signer))
}

func TestVerifyOuterDetectsTampering(t *testing.T) {
	signer, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeEd25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")
	require.NoError(t, SignOuter(msg, signer))

	msg.Body.Inner.MessageData.Content = "tampered"
	err = VerifyOuter(msg, signer)
	require.Error(t, err)
	assert.ErrorIs(t, err, sagecrypto.ErrSignatureInvalid)
}

func TestVerifyOuterWrongKey(t *testing.T) {
	signer, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeEd25519)
	require.NoError(t, err)
	other, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeEd25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")
	require.NoError(t, SignOuter(msg, signer))

	err = VerifyOuter(msg, other)
	require.Error(t, err)
	assert.ErrorIs(t, err, sagecrypto.ErrSignatureInvalid)
}

func TestEncryptDecryptOuterRoundtrip(t *testing.T) {
	senderSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)
	recipientSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")
	originalContent := msg.Body.Inner.MessageData.Content

	require.NoError(t, EncryptOuter(msg, senderSK, recipientSK.PublicKey()))
	assert.True(t, msg.Body.Encrypted)
	assert.Nil(t, msg.Body.Inner)
	assert.Equal(t, EncryptionBodyEncrypted, msg.Encryption)

	require.NoError(t, DecryptOuter(msg, recipientSK, senderSK.PublicKey()))
	assert.False(t, msg.Body.Encrypted)
	require.NotNil(t, msg.Body.Inner)
	assert.Equal(t, originalContent, msg.Body.Inner.MessageData.Content)
	assert.Equal(t, EncryptionNone, msg.Encryption)
}

func TestDecryptOuterWrongKeyFails(t *testing.T) {
	senderSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)
	recipientSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)
	intruderSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")
	require.NoError(t, EncryptOuter(msg, senderSK, recipientSK.PublicKey()))

	err = DecryptOuter(msg, intruderSK, senderSK.PublicKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, sagecrypto.ErrDecryptionFailed)
}

func TestEncryptOuterRejectsDoubleEncryption(t *testing.T) {
	senderSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)
	recipientSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)

	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")
	require.NoError(t, EncryptOuter(msg, senderSK, recipientSK.PublicKey()))

	err = EncryptOuter(msg, senderSK, recipientSK.PublicKey())
	assert.ErrorIs(t, err, ErrAlreadyEncrypted)
}

func TestEncryptDecryptInnerRoundtrip(t *testing.T) {
	senderSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)
	recipientSK, err := sagecrypto.GenerateKeyPair(sagecrypto.KeyTypeX25519)
	require.NoError(t, err)

	body := &ShinkaiBody{
		MessageData: MessageData{Content: "secret job prompt", Schema: SchemaJobMessage},
	}

	require.NoError(t, EncryptInner(body, senderSK, recipientSK.PublicKey()))
	assert.True(t, body.MessageData.Encrypted)
	assert.Equal(t, EncryptionContentEncrypted, body.InternalMetadata.EncryptionMethod)

	require.NoError(t, DecryptInner(body, recipientSK, senderSK.PublicKey()))
	assert.Equal(t, "secret job prompt", body.MessageData.Content)
	assert.Equal(t, SchemaJobMessage, body.MessageData.Schema)
	assert.Equal(t, EncryptionNone, body.InternalMetadata.EncryptionMethod)
}

func TestHashIsStableAndSensitiveToContent(t *testing.T) {
	msg := newTestMessage(t, "alice.shinkai", "bob.shinkai")

	h1, err := Hash(msg)
	require.NoError(t, err)
	h2, err := Hash(msg)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	msg.Body.Inner.MessageData.Content = "different"
	h3, err := Hash(msg)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestRequiresPersistBeforeAck(t *testing.T) {
	assert.True(t, RequiresPersistBeforeAck(SchemaTextContent))
	assert.True(t, RequiresPersistBeforeAck(SchemaJobMessage))
	assert.False(t, RequiresPersistBeforeAck(SchemaPing))
}

func TestIsOfferingSchema(t *testing.T) {
	assert.True(t, IsOfferingSchema(SchemaInvoice))
	assert.True(t, IsOfferingSchema(SchemaInvoiceRequest))
	assert.False(t, IsOfferingSchema(SchemaTextContent))
}
