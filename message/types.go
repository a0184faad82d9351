// Package message defines the Shinkai envelope: the signed, optionally
// encrypted structure that travels between identities, and the schema
// tags the router dispatches on.
package message

import (
	"errors"
	"time"
)

// EncryptionMethod tags how a layer of a Message is protected.
type EncryptionMethod string

const (
	EncryptionNone             EncryptionMethod = "None"
	EncryptionBodyEncrypted    EncryptionMethod = "DiffieHellmanChaChaPoly1305"
	EncryptionContentEncrypted EncryptionMethod = "ContentEncrypted"
)

// SchemaType tags the payload kind carried by an unencrypted
// MessageData, used by the router to dispatch.
type SchemaType string

const (
	SchemaTextContent                  SchemaType = "TextContent"
	SchemaJobMessage                   SchemaType = "JobMessage"
	SchemaPing                         SchemaType = "Ping"
	SchemaACK                          SchemaType = "ACK"
	SchemaInvoiceRequest               SchemaType = "InvoiceRequest"
	SchemaInvoice                      SchemaType = "Invoice"
	SchemaPaidInvoice                  SchemaType = "PaidInvoice"
	SchemaInvoiceResult                SchemaType = "InvoiceResult"
	SchemaInvoiceRequestNetworkError   SchemaType = "InvoiceRequestNetworkError"
	SchemaAgentNetworkOfferingRequest  SchemaType = "AgentNetworkOfferingRequest"
	SchemaAgentNetworkOfferingResponse SchemaType = "AgentNetworkOfferingResponse"

	// SchemaSystemError tags a node JobManager appends to a job inbox
	// when an inference call fails: never sent over the wire, only
	// ever written locally alongside a job's own messages.
	SchemaSystemError SchemaType = "SystemError"
)

// persistSchemas are the schemas that must be durably stored before an
// ACK is emitted for them (§4.C ordering guarantee).
var persistSchemas = map[SchemaType]bool{
	SchemaTextContent: true,
	SchemaJobMessage:  true,
}

// RequiresPersistBeforeAck reports whether schema must be written to
// an inbox before the router may emit its ACK.
func RequiresPersistBeforeAck(schema SchemaType) bool {
	return persistSchemas[schema]
}

// offeringSchemas are forwarded to the AgentOfferingsMediator.
var offeringSchemas = map[SchemaType]bool{
	SchemaInvoiceRequest:               true,
	SchemaInvoice:                      true,
	SchemaPaidInvoice:                  true,
	SchemaInvoiceResult:                true,
	SchemaInvoiceRequestNetworkError:   true,
	SchemaAgentNetworkOfferingRequest:  true,
	SchemaAgentNetworkOfferingResponse: true,
}

// IsOfferingSchema reports whether schema belongs to the invoice
// protocol and must be forwarded to the offerings mediator.
func IsOfferingSchema(schema SchemaType) bool {
	return offeringSchemas[schema]
}

// NodeAPIData carries a stored message's own content hash and its
// parent's hash, so a caller can reconstruct tree edges without a
// second store round-trip.
type NodeAPIData struct {
	MessageHash string `json:"message_hash,omitempty"`
	ParentHash  string `json:"parent_hash,omitempty"`
}

// MessageData is message_data: either still encrypted, or plaintext
// content tagged with a schema.
type MessageData struct {
	Encrypted  bool       `json:"encrypted"`
	Ciphertext []byte     `json:"ciphertext,omitempty"`
	Content    string     `json:"content,omitempty"`
	Schema     SchemaType `json:"schema,omitempty"`
}

// InternalMetadata is internal_metadata: routing and encryption-state
// information about message_data.
type InternalMetadata struct {
	SenderSubidentity    string           `json:"sender_subidentity"`
	RecipientSubidentity string           `json:"recipient_subidentity"`
	InboxName            string           `json:"inbox_name"`
	EncryptionMethod      EncryptionMethod `json:"encryption_method"`
	NodeAPIData          *NodeAPIData     `json:"node_api_data,omitempty"`
}

// ShinkaiBody is the unencrypted form of a Message's body.
type ShinkaiBody struct {
	MessageData      MessageData      `json:"message_data"`
	InternalMetadata InternalMetadata `json:"internal_metadata"`
}

// Body is body: either still encrypted, or a ShinkaiBody.
type Body struct {
	Encrypted  bool        `json:"encrypted"`
	Ciphertext []byte      `json:"ciphertext,omitempty"`
	Inner      *ShinkaiBody `json:"inner,omitempty"`
}

// ExternalMetadata is external_metadata: the cleartext envelope
// header that the outer signature covers.
type ExternalMetadata struct {
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Signature     string    `json:"signature"`
	IntraSender   string    `json:"intra_sender,omitempty"`
}

// Message is the full envelope exchanged between identities.
type Message struct {
	Body             Body             `json:"body"`
	ExternalMetadata ExternalMetadata `json:"external_metadata"`
	Encryption       EncryptionMethod `json:"encryption"`
	Version          string           `json:"version"`
}

const CurrentVersion = "1.0"

var (
	// ErrAlreadyEncrypted is returned by encrypt_outer/encrypt_inner
	// when the target layer is already in its encrypted form.
	ErrAlreadyEncrypted = errors.New("message: layer already encrypted")
	// ErrNotEncrypted is returned by decrypt_outer/decrypt_inner when
	// the target layer is already plaintext.
	ErrNotEncrypted = errors.New("message: layer not encrypted")
)
