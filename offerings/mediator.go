package offerings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/crypto/keys"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/internal/metrics"
	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/store"
)

const defaultInvoiceTTL = 15 * time.Minute
const defaultBackoffBase = 500 * time.Millisecond
const defaultBackoffMax = 30 * time.Second

// OutboundSender is the capability seam the mediator uses to deliver
// protocol messages it originates itself (a seller's Invoice reply, a
// buyer's InvoiceRequest): no Transport/Sender abstraction exists
// elsewhere in this repo, so — the same way job.InferenceClient keeps
// JobManager decoupled from a concrete model provider — offerings
// depends only on this contract, never on a concrete network client.
type OutboundSender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// OfferingHandler executes a paid tool call once its invoice has been
// settled, returning the payload carried back in InvoiceResult.
type OfferingHandler func(ctx context.Context, inv Invoice, proof string) (json.RawMessage, error)

// Offering is one priced tool this node sells.
type Offering struct {
	ToolKey  string
	Price    string
	Currency string
	Handler  OfferingHandler
}

// Events are the application-layer hooks the mediator emits, mirroring
// router.Events's split between transport and policy.
type Events interface {
	OnStateChange(invoiceID string, from, to InvoiceState)
	OnSendFailed(invoiceID string, err error)
	OnDiscovery(responder string, offerings []OfferingSummary)
}

// NoopEvents discards every hook.
type NoopEvents struct{}

func (NoopEvents) OnStateChange(string, InvoiceState, InvoiceState) {}
func (NoopEvents) OnSendFailed(string, error)                      {}
func (NoopEvents) OnDiscovery(string, []OfferingSummary)           {}

// Mediator implements AgentOfferingsMediator: the invoice state
// machine forwarded offering-schema messages are routed to via
// router.WithOfferingsForwarder. Grounded on job.Manager's per-ID
// lock map and identity.Registry's single-store persistence
// shape, rather than any one teacher file, since no teacher component
// models a multi-party payment handshake.
type Mediator struct {
	db         store.Store
	self       identity.Name
	signingKey sagecrypto.KeyPair
	sender     OutboundSender
	events     Events

	invoiceTTL   time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration

	mu        sync.Mutex
	offerings map[string]Offering
	locks     map[string]*sync.Mutex
}

// Option configures optional Mediator fields.
type Option func(*Mediator)

func WithEvents(events Events) Option { return func(m *Mediator) { m.events = events } }

func WithInvoiceTTL(ttl time.Duration) Option { return func(m *Mediator) { m.invoiceTTL = ttl } }

// WithBackoff overrides the bounded exponential backoff used by
// RunExpirationSweeps after a scan failure.
func WithBackoff(base, max time.Duration) Option {
	return func(m *Mediator) { m.backoffBase = base; m.backoffMax = max }
}

// NewMediator builds a Mediator for self, signing outbound envelopes
// with signingKey and delivering them through sender.
func NewMediator(db store.Store, self identity.Name, signingKey sagecrypto.KeyPair, sender OutboundSender, opts ...Option) *Mediator {
	m := &Mediator{
		db: db, self: self, signingKey: signingKey, sender: sender,
		events:      NoopEvents{},
		invoiceTTL:  defaultInvoiceTTL,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		offerings:   make(map[string]Offering),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddOffering registers (or replaces) a priced tool this node sells.
// Offerings are populated explicitly at construction time, never via
// a package-level registry.
func (m *Mediator) AddOffering(o Offering) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offerings[o.ToolKey] = o
}

func (m *Mediator) offering(toolKey string) (Offering, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offerings[toolKey]
	return o, ok
}

func (m *Mediator) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// ForwardOffering implements router.OfferingsForwarder. The router
// has already verified msg's signature and decrypted its body; this
// call only classifies the payload by schema and serializes the
// invoice-specific state transition, one lock per invoice_id. It takes
// no context because router.OfferingsForwarder is a fire-and-forget
// contract the router depends on without importing this package.
func (m *Mediator) ForwardOffering(msg *message.Message) error {
	ctx := context.Background()
	if msg.Body.Inner == nil {
		return fmt.Errorf("offerings: message has no inner body")
	}
	sender := msg.ExternalMetadata.Sender
	content := []byte(msg.Body.Inner.MessageData.Content)

	switch msg.Body.Inner.MessageData.Schema {
	case message.SchemaInvoiceRequest:
		var p InvoiceRequestPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode invoice_request: %w", err)
		}
		return m.handleInvoiceRequest(ctx, sender, p)

	case message.SchemaInvoice:
		var p InvoicePayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode invoice: %w", err)
		}
		lock := m.lockFor(p.InvoiceID)
		lock.Lock()
		defer lock.Unlock()
		return m.handleInvoice(ctx, sender, p)

	case message.SchemaPaidInvoice:
		var p PaidInvoicePayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode paid_invoice: %w", err)
		}
		lock := m.lockFor(p.InvoiceID)
		lock.Lock()
		defer lock.Unlock()
		return m.handlePaidInvoice(ctx, sender, p)

	case message.SchemaInvoiceResult:
		var p InvoiceResultPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode invoice_result: %w", err)
		}
		lock := m.lockFor(p.InvoiceID)
		lock.Lock()
		defer lock.Unlock()
		return m.handleInvoiceResult(ctx, sender, p)

	case message.SchemaInvoiceRequestNetworkError:
		var p InvoiceRequestNetworkErrorPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode invoice_request_network_error: %w", err)
		}
		return m.handleNetworkError(ctx, sender, p)

	case message.SchemaAgentNetworkOfferingRequest:
		var p AgentNetworkOfferingRequestPayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode offering_request: %w", err)
		}
		return m.handleOfferingRequest(ctx, sender, p)

	case message.SchemaAgentNetworkOfferingResponse:
		var p AgentNetworkOfferingResponsePayload
		if err := json.Unmarshal(content, &p); err != nil {
			return fmt.Errorf("offerings: decode offering_response: %w", err)
		}
		return m.handleOfferingResponse(ctx, sender, p)

	default:
		return fmt.Errorf("offerings: unsupported schema %s", msg.Body.Inner.MessageData.Schema)
	}
}

// RequestInvoice is the buyer-side kickoff: asks seller to price
// toolKey, optionally describing usage, and tracks the pending
// request under parentMessageID (or a generated id if absent) until
// the seller's Invoice reply supplies the canonical invoice_id.
func (m *Mediator) RequestInvoice(ctx context.Context, seller identity.Name, toolKey, usageInquiry, parentMessageID string) (*Invoice, error) {
	requestID := parentMessageID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	lock := m.lockFor(requestID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	inv := &Invoice{
		InvoiceID:       requestID,
		ToolKey:         toolKey,
		Buyer:           m.self.String(),
		Seller:          seller.String(),
		State:           StateRequested,
		ParentMessageID: parentMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := m.persistInvoice(ctx, inv); err != nil {
		return nil, err
	}
	m.trace(ctx, inv, "invoice_request_sent", toolKey)

	payload := InvoiceRequestPayload{ToolKey: toolKey, UsageInquiry: usageInquiry, ParentMessageID: requestID}
	if err := m.sendPayload(ctx, seller.String(), message.SchemaInvoiceRequest, payload, requestID); err != nil {
		return inv, fmt.Errorf("offerings: send invoice request: %w", err)
	}
	return inv, nil
}

func (m *Mediator) handleInvoiceRequest(ctx context.Context, buyer string, p InvoiceRequestPayload) error {
	offering, ok := m.offering(p.ToolKey)
	if !ok {
		payload := InvoiceRequestNetworkErrorPayload{ToolKey: p.ToolKey, Reason: ErrUnknownToolKey.Error()}
		return m.sendPayload(ctx, buyer, message.SchemaInvoiceRequestNetworkError, payload, "")
	}

	invoiceID := uuid.NewString()
	lock := m.lockFor(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	address, err := deriveSettlementAddress(invoiceID)
	if err != nil {
		payload := InvoiceRequestNetworkErrorPayload{ToolKey: p.ToolKey, Reason: err.Error()}
		return m.sendPayload(ctx, buyer, message.SchemaInvoiceRequestNetworkError, payload, "")
	}

	now := time.Now()
	inv := &Invoice{
		InvoiceID:       invoiceID,
		ToolKey:         p.ToolKey,
		Buyer:           buyer,
		Seller:          m.self.String(),
		State:           StateRequested,
		Price:           offering.Price,
		Currency:        offering.Currency,
		Address:         address,
		ExpirationTime:  now.Add(m.invoiceTTL),
		ParentMessageID: p.ParentMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.trace(ctx, inv, "invoice_request_received", p.UsageInquiry)
	m.transition(inv, StateQuoted, "quote issued")
	if err := m.persistInvoice(ctx, inv); err != nil {
		return err
	}

	payload := InvoicePayload{
		InvoiceID: inv.InvoiceID, ToolKey: inv.ToolKey, Price: inv.Price, Currency: inv.Currency,
		ExpirationTime: inv.ExpirationTime, Address: inv.Address, ParentMessageID: inv.ParentMessageID,
	}
	return m.sendPayload(ctx, buyer, message.SchemaInvoice, payload, inv.InvoiceID)
}

func (m *Mediator) handleInvoice(ctx context.Context, seller string, p InvoicePayload) error {
	inv, err := m.loadInvoice(ctx, p.InvoiceID)
	switch {
	case err == nil:
		// found under its canonical invoice_id already.
	case errors.Is(err, ErrInvoiceNotFound):
		if p.ParentMessageID != "" {
			if pending, pendErr := m.loadInvoice(ctx, p.ParentMessageID); pendErr == nil {
				inv = pending
				inv.InvoiceID = p.InvoiceID
				_ = m.deleteInvoice(ctx, p.ParentMessageID)
			}
		}
		if inv == nil {
			now := time.Now()
			inv = &Invoice{InvoiceID: p.InvoiceID, ToolKey: p.ToolKey, Buyer: m.self.String(), Seller: seller, State: StateRequested, CreatedAt: now}
		}
	default:
		return fmt.Errorf("offerings: load invoice for quote: %w", err)
	}

	inv.Price, inv.Currency, inv.Address, inv.ExpirationTime, inv.ParentMessageID = p.Price, p.Currency, p.Address, p.ExpirationTime, p.ParentMessageID
	m.trace(ctx, inv, "quote_received", p.Price+" "+p.Currency)
	m.transition(inv, StateQuoted, "quote received")
	return m.persistInvoice(ctx, inv)
}

func (m *Mediator) handlePaidInvoice(ctx context.Context, buyer string, p PaidInvoicePayload) error {
	inv, err := m.loadInvoice(ctx, p.InvoiceID)
	if err != nil {
		return err
	}

	if time.Now().After(inv.ExpirationTime) {
		m.transition(inv, StateFailed, "invoice expired before payment accepted")
		if err := m.persistInvoice(ctx, inv); err != nil {
			return err
		}
		metrics.InvoiceExpirations.Inc()
		result := InvoiceResultPayload{InvoiceID: inv.InvoiceID, Status: StateFailed, Error: ErrInvoiceExpired.Error()}
		return m.sendPayload(ctx, buyer, message.SchemaInvoiceResult, result, inv.InvoiceID)
	}

	m.transition(inv, StatePaid, "payment proof received")
	m.transition(inv, StateProcessing, "processing paid invoice")
	if err := m.persistInvoice(ctx, inv); err != nil {
		return err
	}

	offering, ok := m.offering(inv.ToolKey)
	if !ok {
		return m.failProcessing(ctx, inv, buyer, ErrUnknownToolKey.Error())
	}

	started := time.Now()
	result, procErr := offering.Handler(ctx, *inv, p.Proof)
	metrics.InvoiceProcessingDuration.Observe(time.Since(started).Seconds())
	if procErr != nil {
		return m.failProcessing(ctx, inv, buyer, procErr.Error())
	}

	inv.Result = result
	m.transition(inv, StateCompleted, "tool execution completed")
	if err := m.persistInvoice(ctx, inv); err != nil {
		return err
	}
	resultPayload := InvoiceResultPayload{InvoiceID: inv.InvoiceID, Status: StateCompleted, Payload: result}
	return m.sendPayload(ctx, buyer, message.SchemaInvoiceResult, resultPayload, inv.InvoiceID)
}

func (m *Mediator) failProcessing(ctx context.Context, inv *Invoice, buyer, reason string) error {
	inv.FailureReason = reason
	m.transition(inv, StateFailed, reason)
	if err := m.persistInvoice(ctx, inv); err != nil {
		return err
	}
	result := InvoiceResultPayload{InvoiceID: inv.InvoiceID, Status: StateFailed, Error: reason}
	return m.sendPayload(ctx, buyer, message.SchemaInvoiceResult, result, inv.InvoiceID)
}

func (m *Mediator) handleInvoiceResult(ctx context.Context, seller string, p InvoiceResultPayload) error {
	inv, err := m.loadInvoice(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	inv.Result = p.Payload
	inv.FailureReason = p.Error
	m.transition(inv, p.Status, "invoice result received")
	return m.persistInvoice(ctx, inv)
}

func (m *Mediator) handleNetworkError(ctx context.Context, seller string, p InvoiceRequestNetworkErrorPayload) error {
	if p.InvoiceID == "" {
		m.tracef(ctx, p.ToolKey, "invoice_request_network_error", p.Reason)
		return nil
	}
	lock := m.lockFor(p.InvoiceID)
	lock.Lock()
	defer lock.Unlock()

	inv, err := m.loadInvoice(ctx, p.InvoiceID)
	if err != nil {
		return err
	}
	inv.FailureReason = p.Reason
	m.transition(inv, StateNetworkError, p.Reason)
	return m.persistInvoice(ctx, inv)
}

func (m *Mediator) handleOfferingRequest(ctx context.Context, requester string, _ AgentNetworkOfferingRequestPayload) error {
	m.mu.Lock()
	summaries := make([]OfferingSummary, 0, len(m.offerings))
	for _, o := range m.offerings {
		summaries = append(summaries, OfferingSummary{ToolKey: o.ToolKey, Price: o.Price, Currency: o.Currency})
	}
	m.mu.Unlock()
	sort.Slice(summaries, func(a, b int) bool { return summaries[a].ToolKey < summaries[b].ToolKey })

	payload := AgentNetworkOfferingResponsePayload{Offerings: summaries}
	return m.sendPayload(ctx, requester, message.SchemaAgentNetworkOfferingResponse, payload, "")
}

func (m *Mediator) handleOfferingResponse(_ context.Context, responder string, p AgentNetworkOfferingResponsePayload) error {
	m.events.OnDiscovery(responder, p.Offerings)
	return nil
}

// CheckExpirations transitions every non-terminal invoice whose
// expiration_time has elapsed to Failed, returning how many it found.
func (m *Mediator) CheckExpirations(ctx context.Context) (int, error) {
	entries, err := m.db.Scan(ctx, store.CFInvoices, "")
	if err != nil {
		return 0, fmt.Errorf("offerings: scan invoices: %w", err)
	}

	now := time.Now()
	expired := 0
	for _, kv := range entries {
		var inv Invoice
		if err := json.Unmarshal(kv.Value, &inv); err != nil {
			continue
		}
		if isTerminal(inv.State) || inv.ExpirationTime.IsZero() || now.Before(inv.ExpirationTime) {
			continue
		}

		lock := m.lockFor(inv.InvoiceID)
		lock.Lock()
		m.transition(&inv, StateFailed, "invoice expired")
		err := m.persistInvoice(ctx, &inv)
		lock.Unlock()
		if err != nil {
			return expired, err
		}
		metrics.InvoiceExpirations.Inc()
		expired++
	}
	return expired, nil
}

// RunExpirationSweeps runs CheckExpirations on interval until ctx is
// canceled, retrying a failed sweep with a bounded exponential backoff.
func (m *Mediator) RunExpirationSweeps(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	backoff := m.backoffBase

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.CheckExpirations(ctx); err != nil {
				metrics.OfferingBackoffRetries.Inc()
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				backoff *= 2
				if backoff > m.backoffMax {
					backoff = m.backoffMax
				}
				continue
			}
			backoff = m.backoffBase
		}
	}
}

func isTerminal(s InvoiceState) bool {
	switch s {
	case StateCompleted, StateFailed, StateNetworkError:
		return true
	}
	return false
}

func (m *Mediator) transition(inv *Invoice, to InvoiceState, detail string) {
	from := inv.State
	inv.State = to
	inv.UpdatedAt = time.Now()
	metrics.InvoicesByState.WithLabelValues(strings.ToLower(string(to))).Inc()
	m.events.OnStateChange(inv.InvoiceID, from, to)
	m.trace(context.Background(), inv, "state_"+strings.ToLower(string(to)), detail)
}

func (m *Mediator) trace(ctx context.Context, inv *Invoice, event, detail string) {
	m.tracef(ctx, inv.traceKey(), event, detail)
}

func (m *Mediator) tracef(ctx context.Context, key, event, detail string) {
	te := TraceEvent{Key: key, Event: event, Detail: detail, Timestamp: time.Now()}
	data, err := json.Marshal(te)
	if err != nil {
		return
	}
	entryKey := fmt.Sprintf("%s::%020d", key, te.Timestamp.UnixNano())
	_ = m.db.Put(ctx, store.CFInvoiceTrace, entryKey, data)
}

// Trace returns every recorded event for key (an invoice_id or a
// parent_message_id), ordered oldest first.
func (m *Mediator) Trace(ctx context.Context, key string) ([]TraceEvent, error) {
	entries, err := m.db.Scan(ctx, store.CFInvoiceTrace, key+"::")
	if err != nil {
		return nil, fmt.Errorf("offerings: scan trace: %w", err)
	}
	events := make([]TraceEvent, 0, len(entries))
	for _, kv := range entries {
		var te TraceEvent
		if err := json.Unmarshal(kv.Value, &te); err != nil {
			continue
		}
		events = append(events, te)
	}
	return events, nil
}

func (m *Mediator) persistInvoice(ctx context.Context, inv *Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("offerings: marshal invoice: %w", err)
	}
	if err := m.db.Put(ctx, store.CFInvoices, inv.InvoiceID, data); err != nil {
		return fmt.Errorf("offerings: persist invoice: %w", err)
	}
	return nil
}

func (m *Mediator) loadInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	data, err := m.db.Get(ctx, store.CFInvoices, invoiceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("offerings: load invoice: %w", err)
	}
	var inv Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("offerings: decode invoice: %w", err)
	}
	return &inv, nil
}

func (m *Mediator) deleteInvoice(ctx context.Context, invoiceID string) error {
	return m.db.Delete(ctx, store.CFInvoices, invoiceID)
}

func (m *Mediator) sendPayload(ctx context.Context, recipient string, schema message.SchemaType, payload any, inboxHint string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("offerings: marshal %s payload: %w", schema, err)
	}
	msg, err := m.buildMessage(recipient, schema, string(data))
	if err != nil {
		return err
	}
	if m.sender == nil {
		return ErrNoSender
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		m.events.OnSendFailed(inboxHint, err)
		return fmt.Errorf("offerings: send %s: %w", schema, err)
	}
	return nil
}

func (m *Mediator) buildMessage(recipient string, schema message.SchemaType, content string) (*message.Message, error) {
	msg := &message.Message{
		Body: message.Body{Inner: &message.ShinkaiBody{
			MessageData:      message.MessageData{Content: content, Schema: schema},
			InternalMetadata: message.InternalMetadata{EncryptionMethod: message.EncryptionNone},
		}},
		ExternalMetadata: message.ExternalMetadata{Sender: m.self.String(), Recipient: recipient, ScheduledTime: time.Now().UTC()},
		Encryption:       message.EncryptionNone,
		Version:          message.CurrentVersion,
	}
	if err := message.SignOuter(msg, m.signingKey); err != nil {
		return nil, fmt.Errorf("offerings: sign message: %w", err)
	}
	return msg, nil
}

// deriveSettlementAddress mints a settlement address for a freshly
// quoted invoice: an ephemeral X25519 key HPKE-encapsulates to itself
// with the invoice id as export context (crypto/keys.x25519.go's
// HPKE helpers), and the 32-byte exported secret is hashed into an
// Ethereum-style address the buyer can pay into. This is an address
// *format* borrowed from go-ethereum, not a live chain integration —
// actual settlement is handled by an external payment rail.
func deriveSettlementAddress(invoiceID string) (string, error) {
	ephemeral, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return "", fmt.Errorf("offerings: generate settlement key: %w", err)
	}
	_, secret, err := keys.HPKEDeriveSharedSecretToPeer(ephemeral.PublicKey(), []byte("shinkai-invoice-address"), []byte(invoiceID), 32)
	if err != nil {
		return "", fmt.Errorf("offerings: derive settlement secret: %w", err)
	}
	hash := ethcrypto.Keccak256(secret)
	return common.BytesToAddress(hash).Hex(), nil
}
