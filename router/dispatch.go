package router

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/shinkai-run/shinkai-node/crypto/keys"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/message"
)

// Handle runs the full receipt algorithm on msg and returns the reply
// the caller's transport should send back (an ACK or a Pong), or nil
// if no reply is warranted (msg was itself an ACK, or a retransmit
// already processed). A non-nil error is a SignatureInvalid,
// DecryptionFailed or IdentityNotFound failure, or a failure to persist
// the message; the caller logs it and does not retry delivery. An
// unknown schema is reported through Events.OnError and still ACKed.
func (r *Router) Handle(ctx context.Context, msg *message.Message) (*message.Message, error) {
	signedMeta := msg.ExternalMetadata
	r.applyRelayRewrite(msg)

	hash, err := message.Hash(msg)
	if err != nil {
		return nil, fmt.Errorf("router: hash inbound message: %w", err)
	}
	if r.dedupe.isDuplicate(hash) {
		r.events.OnDuplicate(msg.ExternalMetadata.Sender, hash)
		return nil, nil
	}
	r.dedupe.markSeen(hash)

	senderRec, err := r.resolveSender(ctx, msg.ExternalMetadata.Sender)
	if err != nil {
		r.events.OnError(msg.ExternalMetadata.Sender, err)
		return nil, err
	}

	// The signature covers the metadata as it arrived, before any relay
	// rewrite; the key comes from the (possibly rewritten) sender.
	verifyMsg := *msg
	verifyMsg.ExternalMetadata = signedMeta
	if err := r.verifySignature(&verifyMsg, senderRec); err != nil {
		r.events.OnError(msg.ExternalMetadata.Sender, err)
		return nil, err
	}

	if msg.Body.Encrypted {
		peerPub, err := ecdhPublicKey(senderRec.EncryptionKey)
		if err != nil {
			r.events.OnError(msg.ExternalMetadata.Sender, err)
			return nil, err
		}
		if err := message.DecryptOuter(msg, r.encryptionKey, peerPub); err != nil {
			r.events.OnError(msg.ExternalMetadata.Sender, err)
			return nil, err
		}
	}

	if msg.Body.Inner == nil {
		err := fmt.Errorf("router: message has no inner body after decrypt_outer")
		r.events.OnError(msg.ExternalMetadata.Sender, err)
		return nil, err
	}

	if msg.Body.Inner.MessageData.Encrypted {
		peerPub, err := ecdhPublicKey(senderRec.EncryptionKey)
		if err == nil {
			err = message.DecryptInner(msg.Body.Inner, r.encryptionKey, peerPub)
		}
		if err != nil {
			// the recipient profile's key may be unavailable here;
			// store the still-encrypted payload as-is and still ACK.
			if persistErr := r.persist(ctx, msg); persistErr != nil {
				return nil, persistErr
			}
			return r.buildACK(msg)
		}
	}

	return r.dispatch(ctx, msg)
}

func (r *Router) dispatch(ctx context.Context, msg *message.Message) (*message.Message, error) {
	schema := msg.Body.Inner.MessageData.Schema

	switch schema {
	case message.SchemaPing:
		return r.buildPong(msg)
	case message.SchemaACK:
		return nil, nil
	}

	if message.RequiresPersistBeforeAck(schema) {
		if err := r.persist(ctx, msg); err != nil {
			return nil, err
		}
		return r.buildACK(msg)
	}

	if message.IsOfferingSchema(schema) {
		if err := r.offerings.ForwardOffering(msg); err != nil {
			r.events.OnError(msg.ExternalMetadata.Sender, err)
		}
		return r.buildACK(msg)
	}

	r.events.OnError(msg.ExternalMetadata.Sender, fmt.Errorf("%w: %s", ErrUnknownSchema, schema))
	return r.buildACK(msg)
}

// applyRelayRewrite implements the localhost proxy-rewrite rule: an
// unregistered node trusts external_metadata.intra_sender as the true
// sender, but only for messages that arrived via the configured proxy.
func (r *Router) applyRelayRewrite(msg *message.Message) {
	if !r.self.IsLocalhost() {
		return
	}
	if r.relay.ProxyName == "" || msg.ExternalMetadata.Sender != r.relay.ProxyName {
		return
	}
	if msg.ExternalMetadata.IntraSender == "" {
		return
	}
	msg.ExternalMetadata.Sender = msg.ExternalMetadata.IntraSender
}

func (r *Router) resolveSender(ctx context.Context, sender string) (identity.Record, error) {
	return r.identities.Resolve(ctx, sender)
}

func (r *Router) verifySignature(msg *message.Message, senderRec identity.Record) error {
	verifyKey, err := keys.NewEd25519PublicKeyOnly(ed25519.PublicKey(senderRec.SigningKey), "")
	if err != nil {
		return fmt.Errorf("router: build verification key: %w", err)
	}
	return message.VerifyOuter(msg, verifyKey)
}

func (r *Router) persist(ctx context.Context, msg *message.Message) error {
	meta := msg.Body.Inner.InternalMetadata
	parentHash := ""
	if meta.NodeAPIData != nil {
		parentHash = meta.NodeAPIData.ParentHash
	}
	stored, err := r.inboxes.Insert(ctx, meta.InboxName, msg, parentHash)
	if err != nil {
		return fmt.Errorf("router: persist into %s: %w", meta.InboxName, err)
	}
	r.events.OnPersisted(meta.InboxName, stored.Hash)
	return nil
}

// buildACK constructs a minimally-sized signed ACK addressed back to
// original's sender.
func (r *Router) buildACK(original *message.Message) (*message.Message, error) {
	return r.reply(original, message.SchemaACK, "")
}

// buildPong replies to a Ping using the same envelope shape.
func (r *Router) buildPong(original *message.Message) (*message.Message, error) {
	return r.reply(original, message.SchemaPing, "Pong")
}

func (r *Router) reply(original *message.Message, schema message.SchemaType, content string) (*message.Message, error) {
	inboxName := ""
	if original.Body.Inner != nil {
		inboxName = original.Body.Inner.InternalMetadata.InboxName
	}
	reply := &message.Message{
		Body: message.Body{Inner: &message.ShinkaiBody{
			MessageData: message.MessageData{Content: content, Schema: schema},
			InternalMetadata: message.InternalMetadata{
				InboxName:        inboxName,
				EncryptionMethod: message.EncryptionNone,
			},
		}},
		ExternalMetadata: message.ExternalMetadata{
			Sender:        r.self.String(),
			Recipient:     original.ExternalMetadata.Sender,
			ScheduledTime: time.Now().UTC(),
		},
		Encryption: message.EncryptionNone,
		Version:    message.CurrentVersion,
	}
	if err := message.SignOuter(reply, r.signingKey); err != nil {
		return nil, fmt.Errorf("router: sign reply: %w", err)
	}
	return reply, nil
}

func ecdhPublicKey(raw []byte) (*ecdh.PublicKey, error) {
	pub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("router: invalid X25519 public key: %w", err)
	}
	return pub, nil
}
