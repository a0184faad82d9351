// Package prompt implements priority-ordered multimodal prompt
// assembly with token-budget shrinking: a Prompt is an ordered list of
// SubPrompts that gets trimmed, lowest priority first, until it fits a
// model's context window.
package prompt

import "encoding/json"

// Role tags a Content or Omni SubPrompt's position in the conversation.
type Role string

const (
	RoleSystem         Role = "System"
	RoleUser           Role = "User"
	RoleAssistant      Role = "Assistant"
	RoleExtraContext   Role = "ExtraContext"
	RoleUserLastMessage Role = "UserLastMessage"
)

// Kind tags the variant of SubPrompt content. Represented as a flat
// struct with a discriminant, the same
// idiom message.Body and vfs.Node use, rather than a tagged interface:
// nothing here needs polymorphic dispatch, and a flat struct keeps
// shrinking/reordering uniform regardless of kind.
type Kind string

const (
	KindContent               Kind = "Content"
	KindOmni                  Kind = "Omni"
	KindToolAvailable         Kind = "ToolAvailable"
	KindFunctionCall          Kind = "FunctionCall"
	KindFunctionCallResponse  Kind = "FunctionCallResponse"
	KindAsset                 Kind = "Asset"
)

// SubPrompt is one priority-tagged unit of prompt content.
type SubPrompt struct {
	Kind     Kind            `json:"kind"`
	Role     Role            `json:"role,omitempty"`
	Text     string          `json:"text,omitempty"`
	Assets   map[string]string `json:"assets,omitempty"` // Omni/Asset: name -> base64
	Schema   json.RawMessage `json:"schema,omitempty"`  // ToolAvailable
	Call     json.RawMessage `json:"call,omitempty"`    // FunctionCall
	Response json.RawMessage `json:"response,omitempty"` // FunctionCallResponse
	Priority int             `json:"priority"` // 0-100, higher = kept longer
}

// Prompt is an ordered list of SubPrompts.
type Prompt struct {
	SubPrompts []SubPrompt
}

// TraceAssetLimit is the maximum number of named assets a single Omni
// sub-prompt carries forward into a provider call; beyond this,
// assets are dropped oldest-first with a logged warning, matching the
// original's per-call image cap in its multimodal prompt construction.
const TraceAssetLimit = 4

// ProviderMessage is one message handed to the external inference
// collaborator: a role and the text/asset payload assembled for it.
type ProviderMessage struct {
	Role   Role
	Text   string
	Assets map[string]string
}
