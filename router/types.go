// Package router implements the state-free message dispatcher: it
// classifies an inbound envelope by encryption state
// and schema, persists or forwards it accordingly, and returns the ACK
// (or Pong) the caller's transport should send back. The dispatch/event
// split follows handshake.Server's shape, collapsed to a single Handle
// call since envelopes are store-and-forward rather than session-bound.
package router

import (
	"errors"
	"time"

	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/inbox"
	"github.com/shinkai-run/shinkai-node/message"
	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
)

// ErrUnknownSchema is reported through Events.OnError when an inbound
// message carries a schema tag this router does not recognize; Handle
// still ACKs such a message and neither returns nor retries the error.
var ErrUnknownSchema = errors.New("router: unknown schema")

// OfferingsForwarder receives messages whose schema belongs to the
// invoice protocol. The router depends only on this contract so it
// never imports the offerings package directly.
type OfferingsForwarder interface {
	ForwardOffering(msg *message.Message) error
}

// noopForwarder drops offering-schema messages when no mediator is
// wired in, logging instead of erroring so router construction never
// requires component H to exist yet.
type noopForwarder struct{ events Events }

func (f noopForwarder) ForwardOffering(msg *message.Message) error {
	f.events.OnForwardDropped(msg.ExternalMetadata.Sender, msg.Body.Inner.MessageData.Schema)
	return nil
}

// Events are the application-layer hooks the router emits instead of
// logging directly, mirroring handshake.Events's callback split
// between transport and policy. A nil Events defaults to NoopEvents.
type Events interface {
	// OnDuplicate is called when an inbound message's hash was already
	// seen within the dedupe TTL; the message is dropped silently.
	OnDuplicate(sender string, hash string)
	// OnError is called for any of the router's non-retried error
	// classes (SignatureInvalid, DecryptionFailed, UnknownSchema,
	// IdentityNotFound).
	OnError(sender string, err error)
	// OnForwardDropped is called when an offering-schema message
	// arrives but no OfferingsForwarder is configured.
	OnForwardDropped(sender string, schema message.SchemaType)
	// OnPersisted is called after a TextContent/JobMessage payload is
	// durably stored, before the ACK is emitted.
	OnPersisted(inboxName, messageHash string)
}

// NoopEvents discards every hook.
type NoopEvents struct{}

func (NoopEvents) OnDuplicate(string, string)                  {}
func (NoopEvents) OnError(string, error)                       {}
func (NoopEvents) OnForwardDropped(string, message.SchemaType) {}
func (NoopEvents) OnPersisted(string, string)                  {}

// RelayConfig configures the localhost proxy-rewrite rule: an
// unregistered node (self.IsLocalhost()) trusts external_metadata's
// intra_sender field as the true sender, but only when the message
// actually arrived via the configured proxy identity.
type RelayConfig struct {
	ProxyName string

	// BearerSecret, when set, is the HMAC secret a transport uses to
	// verify a proxy's relay bearer assertion (IssueRelayBearer /
	// VerifyRelayBearer) before trusting its connection as ProxyName.
	BearerSecret []byte
}

// Router dispatches inbound envelopes. It holds no per-conversation
// state of its own beyond the dedupe cache and relay config; all
// durable state lives in the Identities and Inboxes dependencies.
type Router struct {
	self          identity.Name
	signingKey    sagecrypto.KeyPair
	encryptionKey sagecrypto.KeyPair

	identities *identity.Manager
	inboxes    *inbox.Store
	offerings  OfferingsForwarder
	events     Events
	relay      RelayConfig

	dedupe *dedupeDetector
}

// Option configures optional Router fields.
type Option func(*Router)

// WithOfferingsForwarder wires component H in; without it,
// offering-schema messages are dropped with a OnForwardDropped event.
func WithOfferingsForwarder(f OfferingsForwarder) Option {
	return func(r *Router) { r.offerings = f }
}

// WithEvents installs application-layer hooks.
func WithEvents(events Events) Option {
	return func(r *Router) {
		if events != nil {
			r.events = events
		}
	}
}

// WithRelayConfig installs the localhost proxy-rewrite rule.
func WithRelayConfig(cfg RelayConfig) Option {
	return func(r *Router) { r.relay = cfg }
}

// WithDedupeTTL overrides the default dedupe cache TTL and cleanup
// interval (5 minutes / 1 minute).
func WithDedupeTTL(ttl, cleanupInterval time.Duration) Option {
	return func(r *Router) {
		if r.dedupe != nil {
			r.dedupe.close()
		}
		r.dedupe = newDedupeDetector(ttl, cleanupInterval)
	}
}

// New builds a Router for self, using signingKey/encryptionKey to
// verify/decrypt and sign/encrypt ACKs, identities to resolve peer
// keys, and inboxes to persist TextContent/JobMessage payloads.
func New(self identity.Name, signingKey, encryptionKey sagecrypto.KeyPair, identities *identity.Manager, inboxes *inbox.Store, opts ...Option) *Router {
	r := &Router{
		self:          self,
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
		identities:    identities,
		inboxes:       inboxes,
		events:        NoopEvents{},
		dedupe:        newDedupeDetector(0, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.offerings == nil {
		r.offerings = noopForwarder{events: r.events}
	}
	return r
}

// SetOfferingsForwarder wires component H in after construction, for
// composition roots where the mediator's OutboundSender needs a
// reference back to this router (breaking the construction cycle
// WithOfferingsForwarder would otherwise require).
func (r *Router) SetOfferingsForwarder(f OfferingsForwarder) {
	r.offerings = f
}

// Close stops the router's background dedupe cleanup loop.
func (r *Router) Close() {
	r.dedupe.close()
}
