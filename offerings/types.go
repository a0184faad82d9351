// Package offerings implements the AgentOfferingsMediator: the invoice
// state machine that brokers paid tool usage between identities,
// carried as schema-tagged JSON payloads inside message.Message
// envelopes the router forwards.
package offerings

import (
	"encoding/json"
	"errors"
	"time"
)

// InvoiceState is a node in the invoice lifecycle:
//
//	None -> Requested -> Quoted -> Paid -> Processing -> Completed
//
// with Failed reachable from Quoted/Paid/Processing, and NetworkError
// reachable from Requested (the seller could not be reached at all).
type InvoiceState string

const (
	StateNone        InvoiceState = ""
	StateRequested   InvoiceState = "Requested"
	StateQuoted      InvoiceState = "Quoted"
	StatePaid        InvoiceState = "Paid"
	StateProcessing  InvoiceState = "Processing"
	StateCompleted   InvoiceState = "Completed"
	StateFailed      InvoiceState = "Failed"
	StateNetworkError InvoiceState = "NetworkError"
)

var (
	ErrInvoiceNotFound  = errors.New("offerings: invoice not found")
	ErrUnknownToolKey   = errors.New("offerings: unknown tool key")
	ErrInvoiceExpired   = errors.New("offerings: invoice expired")
	ErrInvalidState     = errors.New("offerings: invalid state transition")
	ErrNoSender         = errors.New("offerings: no outbound sender configured")
)

// Invoice is the durable record of one invoice's lifecycle, persisted
// under store.CFInvoices keyed by InvoiceID.
type Invoice struct {
	InvoiceID       string          `json:"invoice_id"`
	ToolKey         string          `json:"tool_key"`
	Buyer           string          `json:"buyer"`
	Seller          string          `json:"seller"`
	State           InvoiceState    `json:"state"`
	Price           string          `json:"price"`
	Currency        string          `json:"currency"`
	Address         string          `json:"address,omitempty"`
	ExpirationTime  time.Time       `json:"expiration_time"`
	ParentMessageID string          `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Result          json.RawMessage `json:"result,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
}

// traceKey is the tracing log's grouping key: parent_message_id when
// the invoice arose from a specific conversation turn, otherwise the
// invoice_id once one has been minted.
func (inv *Invoice) traceKey() string {
	if inv.ParentMessageID != "" {
		return inv.ParentMessageID
	}
	return inv.InvoiceID
}

// TraceEvent is one entry in an invoice's tracing log, backed by
// store.CFInvoiceTrace.
type TraceEvent struct {
	Key       string    `json:"key"`
	InvoiceID string    `json:"invoice_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InvoiceRequestPayload is the buyer->seller InvoiceRequest message
// content: a usage inquiry for a priced tool.
type InvoiceRequestPayload struct {
	ToolKey         string `json:"tool_key"`
	UsageInquiry    string `json:"usage_inquiry,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// InvoicePayload is the seller->buyer Invoice message content: a
// priced quote with a settlement address and an expiration.
type InvoicePayload struct {
	InvoiceID       string    `json:"invoice_id"`
	ToolKey         string    `json:"tool_key"`
	Price           string    `json:"price"`
	Currency        string    `json:"currency"`
	ExpirationTime  time.Time `json:"expiration_time"`
	Address         string    `json:"address"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
}

// PaidInvoicePayload is the buyer->seller PaidInvoice message content:
// proof of payment against a previously quoted invoice.
type PaidInvoicePayload struct {
	InvoiceID string `json:"invoice_id"`
	Proof     string `json:"proof"`
}

// InvoiceResultPayload is the seller->buyer InvoiceResult message
// content: the final status of a paid invoice and, on success, the
// tool's output.
type InvoiceResultPayload struct {
	InvoiceID string          `json:"invoice_id"`
	Status    InvoiceState    `json:"status"` // Completed or Failed
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// InvoiceRequestNetworkErrorPayload is the seller->buyer message sent
// when an InvoiceRequest could not be honored at all (unknown tool
// key, or the seller is otherwise unreachable for processing).
type InvoiceRequestNetworkErrorPayload struct {
	InvoiceID string `json:"invoice_id,omitempty"`
	ToolKey   string `json:"tool_key"`
	Reason    string `json:"reason"`
}

// OfferingSummary describes one priced tool offering for discovery
// responses.
type OfferingSummary struct {
	ToolKey  string `json:"tool_key"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// AgentNetworkOfferingRequestPayload asks a node to enumerate its
// priced tool offerings.
type AgentNetworkOfferingRequestPayload struct {
	RequesterNode string `json:"requester_node,omitempty"`
}

// AgentNetworkOfferingResponsePayload answers an
// AgentNetworkOfferingRequest with the responder's current offerings.
type AgentNetworkOfferingResponsePayload struct {
	Offerings []OfferingSummary `json:"offerings"`
}
