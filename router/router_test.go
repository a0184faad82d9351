package router

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/crypto/keys"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/inbox"
	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/store/memory"
)

type peer struct {
	name  identity.Name
	sign  sagecrypto.KeyPair
	encr  sagecrypto.KeyPair
	encrB []byte
}

func newPeer(t *testing.T, full string) peer {
	t.Helper()
	name, err := identity.ParseName(full)
	require.NoError(t, err)

	sign, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	encr, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	pub := encr.PublicKey().(*ecdh.PublicKey)

	return peer{name: name, sign: sign, encr: encr, encrB: pub.Bytes()}
}

func (p peer) record() identity.Record {
	return identity.Record{
		Name:          p.name,
		Kind:          p.name.Kind(),
		SigningKey:    []byte(p.sign.PublicKey().(ed25519.PublicKey)),
		EncryptionKey: p.encrB,
		Permission:    identity.PermissionStandard,
	}
}

func newTestRouter(t *testing.T, self peer, register ...peer) (*Router, *inbox.Store) {
	t.Helper()
	db := memory.NewStore()
	reg := identity.NewRegistry(db)
	for _, p := range register {
		require.NoError(t, reg.InsertProfile(context.Background(), p.record()))
	}
	mgr := identity.NewManager(reg, nil)
	ibx := inbox.NewStore(nil)
	r := New(self.name, self.sign, self.encr, mgr, ibx)
	t.Cleanup(r.Close)
	return r, ibx
}

func plainTextMessage(t *testing.T, sender, recipient peer, schema message.SchemaType, content, inboxName string) *message.Message {
	t.Helper()
	msg := &message.Message{
		Body: message.Body{Inner: &message.ShinkaiBody{
			MessageData: message.MessageData{Content: content, Schema: schema},
			InternalMetadata: message.InternalMetadata{
				InboxName:        inboxName,
				EncryptionMethod: message.EncryptionNone,
			},
		}},
		ExternalMetadata: message.ExternalMetadata{
			Sender:    sender.name.String(),
			Recipient: recipient.name.String(),
		},
		Encryption: message.EncryptionNone,
		Version:    message.CurrentVersion,
	}
	require.NoError(t, message.SignOuter(msg, sender.sign))
	return msg
}

func TestHandlePingRepliesPong(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob, alice)

	msg := plainTextMessage(t, alice, bob, message.SchemaPing, "", "inbox::alice::bob::false")
	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, message.SchemaPing, reply.Body.Inner.MessageData.Schema)
	assert.Equal(t, "Pong", reply.Body.Inner.MessageData.Content)
	assert.Equal(t, bob.name.String(), reply.ExternalMetadata.Sender)
}

func TestHandleACKIsNoop(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob, alice)

	msg := plainTextMessage(t, alice, bob, message.SchemaACK, "", "inbox::alice::bob::false")
	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestHandlePersistsTextContentThenACKs(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, ibx := newTestRouter(t, bob, alice)

	const inboxName = "inbox::alice::bob::false"
	msg := plainTextMessage(t, alice, bob, message.SchemaTextContent, "hello bob", inboxName)
	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, message.SchemaACK, reply.Body.Inner.MessageData.Schema)

	gens, err := ibx.LastMessages(context.Background(), inboxName, 1, "")
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "hello bob", gens[0][0].Message.Body.Inner.MessageData.Content)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob, alice)

	msg := plainTextMessage(t, alice, bob, message.SchemaTextContent, "hello", "inbox::alice::bob::false")
	msg.Body.Inner.MessageData.Content = "tampered"

	_, err := r.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, sagecrypto.ErrSignatureInvalid)
}

func TestHandleUnknownSenderIsIdentityNotFound(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob) // alice never registered

	msg := plainTextMessage(t, alice, bob, message.SchemaTextContent, "hello", "inbox::alice::bob::false")
	_, err := r.Handle(context.Background(), msg)
	assert.ErrorIs(t, err, identity.ErrIdentityNotFound)
}

func TestHandleDeduplicatesRetransmit(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, ibx := newTestRouter(t, bob, alice)

	const inboxName = "inbox::alice::bob::false"
	msg := plainTextMessage(t, alice, bob, message.SchemaTextContent, "hello once", inboxName)

	first, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, second, "a retransmit of an already-seen message must not be reprocessed")

	gens, err := ibx.LastMessages(context.Background(), inboxName, 10, "")
	require.NoError(t, err)
	require.Len(t, gens, 1, "the retransmit must not be inserted a second time")
}

func TestHandleUnknownSchemaStillACKs(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob, alice)

	var errs []error
	r.events = eventsRecorder{errs: &errs}
	r.offerings = noopForwarder{events: r.events}

	msg := plainTextMessage(t, alice, bob, message.SchemaType("SomethingElse"), "x", "inbox::alice::bob::false")
	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, message.SchemaACK, reply.Body.Inner.MessageData.Schema)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownSchema)
}

func TestHandleForwardsOfferingSchema(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, _ := newTestRouter(t, bob, alice)

	var forwarded []*message.Message
	r.offerings = recordingForwarder{received: &forwarded}

	msg := plainTextMessage(t, alice, bob, message.SchemaInvoiceRequest, "{}", "inbox::alice::bob::false")
	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.Len(t, forwarded, 1)
	assert.Equal(t, message.SchemaInvoiceRequest, forwarded[0].Body.Inner.MessageData.Schema)
}

func TestHandleEncryptedRoundTrip(t *testing.T) {
	alice := newPeer(t, "node.shinkai/alice")
	bob := newPeer(t, "node.shinkai/bob")
	r, ibx := newTestRouter(t, bob, alice)

	const inboxName = "inbox::alice::bob::false"
	body := &message.ShinkaiBody{
		MessageData: message.MessageData{Content: "secret", Schema: message.SchemaTextContent},
		InternalMetadata: message.InternalMetadata{
			InboxName:        inboxName,
			EncryptionMethod: message.EncryptionNone,
		},
	}
	msg := &message.Message{
		Body: message.Body{Inner: body},
		ExternalMetadata: message.ExternalMetadata{
			Sender:    alice.name.String(),
			Recipient: bob.name.String(),
		},
		Version: message.CurrentVersion,
	}
	bobPub := bob.encr.PublicKey().(*ecdh.PublicKey)
	require.NoError(t, message.EncryptOuter(msg, alice.encr, bobPub))
	require.NoError(t, message.SignOuter(msg, alice.sign))

	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)

	gens, err := ibx.LastMessages(context.Background(), inboxName, 1, "")
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, "secret", gens[0][0].Message.Body.Inner.MessageData.Content)
}

func TestHandleRelayRewriteTrustsConfiguredProxy(t *testing.T) {
	proxy := newPeer(t, "node.shinkai/relay")
	alice := newPeer(t, "node.shinkai/alice")
	self, err := identity.ParseName("localhost.shinkai")
	require.NoError(t, err)

	db := memory.NewStore()
	reg := identity.NewRegistry(db)
	require.NoError(t, reg.InsertProfile(context.Background(), proxy.record()))
	require.NoError(t, reg.InsertProfile(context.Background(), alice.record()))
	mgr := identity.NewManager(reg, nil)
	ibx := inbox.NewStore(nil)

	selfSign, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	selfEncr, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	r := New(self, selfSign, selfEncr, mgr, ibx, WithRelayConfig(RelayConfig{ProxyName: proxy.name.String()}))
	t.Cleanup(r.Close)

	msg := &message.Message{
		Body: message.Body{Inner: &message.ShinkaiBody{
			MessageData:      message.MessageData{Content: "hi", Schema: message.SchemaTextContent},
			InternalMetadata: message.InternalMetadata{InboxName: "inbox::alice::relay::false"},
		}},
		ExternalMetadata: message.ExternalMetadata{
			Sender:      proxy.name.String(),
			Recipient:   self.String(),
			IntraSender: alice.name.String(),
		},
		Version: message.CurrentVersion,
	}
	require.NoError(t, message.SignOuter(msg, alice.sign))

	reply, err := r.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, alice.name.String(), msg.ExternalMetadata.Sender, "relay rewrite must replace sender with intra_sender")
}

type eventsRecorder struct {
	NoopEvents
	errs *[]error
}

func (e eventsRecorder) OnError(sender string, err error) {
	*e.errs = append(*e.errs, err)
}

type recordingForwarder struct {
	received *[]*message.Message
}

func (f recordingForwarder) ForwardOffering(msg *message.Message) error {
	*f.received = append(*f.received, msg)
	return nil
}
