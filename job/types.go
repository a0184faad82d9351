// Package job implements the conversational task bound to an AI
// provider and a VFS scope: creating jobs, appending messages,
// assembling retrieval context and a prompt,
// invoking an external inference collaborator, and persisting results
// back into the job's inbox.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/vfs"
)

// ErrJobNotFound is returned when an operation names a job_id with no
// recorded Job.
var ErrJobNotFound = errors.New("job: not found")

// ErrInferenceFailed wraps an external inference collaborator's
// failure: a system-error node is appended and the job is left
// unfinished rather than returning to a blank state.
var ErrInferenceFailed = errors.New("job: inference failed")

// ErrMessageNotFound is returned by RetryMessage when message_id does
// not name a stored message in the job's inbox.
var ErrMessageNotFound = errors.New("job: message not found")

// ToolValueKind tags the variant a ToolValue carries, replacing the
// original's Any-typed tool-argument boxes per spec.md §9.
type ToolValueKind string

const (
	ToolValueString ToolValueKind = "String"
	ToolValueInt    ToolValueKind = "Int"
	ToolValueUint   ToolValueKind = "Uint"
	ToolValueFloat  ToolValueKind = "Float"
	ToolValueBool   ToolValueKind = "Bool"
	ToolValueBlob   ToolValueKind = "Blob"
	ToolValueFunc   ToolValueKind = "Func"
)

// ToolValue is a tagged variant standing in for a loosely-typed
// tool-call argument: exactly one field matching Kind is populated,
// and callers pattern-match on Kind rather than type-asserting an
// interface{}.
type ToolValue struct {
	Kind      ToolValueKind `json:"kind"`
	String    string        `json:"string,omitempty"`
	Int       int64         `json:"int,omitempty"`
	Uint      uint64        `json:"uint,omitempty"`
	Float     float64       `json:"float,omitempty"`
	Bool      bool          `json:"bool,omitempty"`
	Blob      []byte        `json:"blob,omitempty"`
	FuncSig   string        `json:"func_signature,omitempty"`
}

// CreationInfo is the caller-supplied shape for CreateJob.
type CreationInfo struct {
	JobScope       []vfs.VRPath
	Config         map[string]string
	AssociatedUI   string
	CallbackAction json.RawMessage
}

// Job is a conversational task bound to an AI provider and a VFS
// scope. Owner is the profile identity the job's VFS scope is read
// under and whose job inbox this is — required to resolve job_scope
// paths against a specific profile's VectorFS (see DESIGN.md).
type Job struct {
	JobID          string            `json:"job_id"`
	Owner          identity.Name     `json:"owner"`
	LLMProviderID  string            `json:"llm_provider_id"`
	JobScope       []vfs.VRPath      `json:"job_scope"`
	Config         map[string]string `json:"config"`
	AssociatedUI   string            `json:"associated_ui,omitempty"`
	CallbackAction json.RawMessage   `json:"callback_action,omitempty"`
	IsFinished     bool              `json:"is_finished"`
	CreationTime   time.Time         `json:"creation_time"`
}

// Attachment is a file handed to JobMessage alongside its text
// content, addressed by the VFS path it was ingested to.
type Attachment struct {
	Path vfs.VRPath
	Name string
}

// InferenceRequest is what JobManager hands to the external inference
// collaborator: the assembled provider messages plus the model's
// declared input budget.
type InferenceRequest struct {
	JobID         string
	LLMProviderID string
	Messages      []ProviderMessageView
	MaxInputTokens int
}

// ProviderMessageView mirrors prompt.ProviderMessage without importing
// the prompt package into the public request shape, so callers outside
// this module boundary are not forced to depend on it transitively.
type ProviderMessageView struct {
	Role   string
	Text   string
	Assets map[string]string
}

// ToolCall is one function-call turn the assistant requested and the
// tool's response to it, appended to the job inbox as a pair.
type ToolCall struct {
	Name      string
	Arguments map[string]ToolValue
	Response  json.RawMessage
}

// InferenceResponse is the external inference collaborator's reply.
type InferenceResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// InferenceClient is the pluggable external inference collaborator —
// specific LLM provider client implementations live outside this
// module; this models only the seam.
type InferenceClient interface {
	Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
}

// CallbackDispatcher invokes a job's callback_action on completion — a
// capability, not a concrete workflow engine; this models the seam,
// not the interpreter.
type CallbackDispatcher interface {
	Dispatch(ctx context.Context, jobID string, action json.RawMessage, resp InferenceResponse) error
}

// Events are the application-layer hooks JobManager emits, mirroring
// router.Events's callback split. A nil Events defaults to NoopEvents.
type Events interface {
	OnInferenceFailed(jobID string, err error)
	OnCallbackFailed(jobID string, err error)
	OnJobFinished(jobID string)
}

// NoopEvents discards every hook.
type NoopEvents struct{}

func (NoopEvents) OnInferenceFailed(string, error) {}
func (NoopEvents) OnCallbackFailed(string, error)  {}
func (NoopEvents) OnJobFinished(string)            {}
