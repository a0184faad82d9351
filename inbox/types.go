// Package inbox implements the per-conversation and per-job message
// trees: content-addressed insert, generation-grouped history
// traversal, read watermarks, and smart-inbox metadata.
package inbox

import (
	"errors"
	"time"

	"github.com/shinkai-run/shinkai-node/message"
)

// ErrParentNotFound is returned by Insert when parentHash does not
// name an already-stored message.
var ErrParentNotFound = errors.New("inbox: parent message not found")

// ErrInboxNotFound is returned when an operation names an inbox with
// no recorded messages or metadata.
var ErrInboxNotFound = errors.New("inbox: not found")

// ErrJobNotFound is returned by RemoveJob/Fork when the job inbox does
// not exist.
var ErrJobNotFound = errors.New("inbox: job not found")

// StoredMessage is a Message plus the tree-edge and indexing metadata
// InboxStore tracks for it.
type StoredMessage struct {
	Message    *message.Message `json:"message"`
	Hash       string           `json:"hash"`
	ParentHash string           `json:"parent_hash,omitempty"`
	Children   []string         `json:"children,omitempty"`
	InboxName  string           `json:"inbox_name"`
	Time       time.Time        `json:"time"`
}

// Meta is the per-inbox record in the `inboxes` column family: its
// current head (most recently inserted message), a read watermark,
// and smart-inbox display metadata.
type Meta struct {
	InboxName       string    `json:"inbox_name"`
	CustomName      string    `json:"custom_name,omitempty"`
	Head            string    `json:"head,omitempty"`
	ReadWatermark   string    `json:"read_watermark,omitempty"`
	IsJobInbox      bool      `json:"is_job_inbox"`
	JobID           string    `json:"job_id,omitempty"`
	IsFinished      bool      `json:"is_finished"`
	DatetimeCreated time.Time `json:"datetime_created"`
}

// SmartInbox is the summary smart_inboxes_for_profile returns for a
// single inbox.
type SmartInbox struct {
	InboxName           string    `json:"inbox_name"`
	CustomName          string    `json:"custom_name,omitempty"`
	LastMessageSummary  string    `json:"last_message_summary,omitempty"`
	JobID               string    `json:"job_id,omitempty"`
	IsFinished          bool      `json:"is_finished"`
	DatetimeCreated     time.Time `json:"datetime_created"`
}
