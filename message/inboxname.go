package message

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidInboxName is returned when a string does not parse as
// either inbox form.
var ErrInvalidInboxName = errors.New("message: invalid inbox name")

const (
	inboxPrefix    = "inbox"
	jobInboxPrefix = "job_inbox"
	inboxSeparator = "::"
)

// ChatInboxName computes the canonical two-party inbox name: the two
// full identity strings, lexically sorted so both participants derive
// the same name regardless of who is "sender" in a given message.
func ChatInboxName(identityA, identityB string) string {
	names := []string{identityA, identityB}
	sort.Strings(names)
	return strings.Join([]string{inboxPrefix, names[0], names[1], "false"}, inboxSeparator)
}

// JobInboxName computes the canonical inbox name for a job's
// conversation thread.
func JobInboxName(jobID string) string {
	return strings.Join([]string{jobInboxPrefix, jobID, "false"}, inboxSeparator)
}

// IsJobInbox reports whether inboxName addresses a job inbox.
func IsJobInbox(inboxName string) bool {
	return strings.HasPrefix(inboxName, jobInboxPrefix+inboxSeparator)
}

// ParsedInboxName is the decomposed form of an inbox name string.
type ParsedInboxName struct {
	IsJobInbox bool
	Identities []string // two sorted identities for a chat inbox, empty for a job inbox
	JobID      string   // set only for a job inbox
}

// ParseInboxName decomposes an inbox name string produced by
// ChatInboxName or JobInboxName, validating its shape.
func ParseInboxName(inboxName string) (ParsedInboxName, error) {
	parts := strings.Split(inboxName, inboxSeparator)

	switch {
	case len(parts) == 4 && parts[0] == inboxPrefix:
		if parts[3] != "false" && parts[3] != "true" {
			return ParsedInboxName{}, fmt.Errorf("%w: %q", ErrInvalidInboxName, inboxName)
		}
		return ParsedInboxName{Identities: []string{parts[1], parts[2]}}, nil
	case len(parts) == 3 && parts[0] == jobInboxPrefix:
		if parts[2] != "false" {
			return ParsedInboxName{}, fmt.Errorf("%w: %q", ErrInvalidInboxName, inboxName)
		}
		return ParsedInboxName{IsJobInbox: true, JobID: parts[1]}, nil
	default:
		return ParsedInboxName{}, fmt.Errorf("%w: %q", ErrInvalidInboxName, inboxName)
	}
}

// DeriveInboxName computes the inbox_name a message's
// internal_metadata must carry, from its sender/recipient subidentity
// strings, mirroring §3's invariant that inbox_name be derivable
// rather than freely chosen.
func DeriveInboxName(senderFull, recipientFull string, isJobInbox bool, jobID string) string {
	if isJobInbox {
		return JobInboxName(jobID)
	}
	return ChatInboxName(senderFull, recipientFull)
}
