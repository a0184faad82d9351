package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sagecrypto "github.com/shinkai-run/shinkai-node/crypto"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/inbox"
	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/prompt"
	"github.com/shinkai-run/shinkai-node/store"
	"github.com/shinkai-run/shinkai-node/vfs"
)

// defaultRetrievalK is how many nodes JobMessage retrieves from each
// job_scope path before assembling a prompt, absent an explicit
// override.
const defaultRetrievalK = 8

// defaultMaxPromptTokens bounds a job's assembled prompt when the
// caller does not supply the model's own max-input-tokens figure.
const defaultMaxPromptTokens = 4000

// Manager creates and drives jobs. A per-job mutex map serializes
// concurrent JobMessage calls on the same job_id while
// letting different jobs proceed in parallel — the same per-key
// guarded-map shape session.Manager uses for session state, narrowed
// to a plain mutex per job since jobs do not expire on idle the way
// sessions do.
type Manager struct {
	db         store.Store
	inboxes    *inbox.Store
	vfsStore   *vfs.VFS
	embeddings vfs.EmbeddingGenerator
	inference  InferenceClient
	callbacks  CallbackDispatcher
	events     Events

	self       identity.Name
	signingKey sagecrypto.KeyPair

	retrievalK      int
	maxPromptTokens int

	mu    sync.Mutex
	jobs  map[string]*Job
	locks map[string]*sync.Mutex
}

// Option configures optional Manager fields.
type Option func(*Manager)

// WithCallbackDispatcher wires a job's callback_action hook (spec
// component G's DSL/workflow seam).
func WithCallbackDispatcher(d CallbackDispatcher) Option {
	return func(m *Manager) { m.callbacks = d }
}

// WithEvents installs application-layer hooks.
func WithEvents(events Events) Option {
	return func(m *Manager) {
		if events != nil {
			m.events = events
		}
	}
}

// WithRetrievalK overrides the default per-scope-path retrieval count.
func WithRetrievalK(k int) Option {
	return func(m *Manager) { m.retrievalK = k }
}

// WithMaxPromptTokens overrides the default prompt token budget used
// when a caller does not supply a model-specific figure.
func WithMaxPromptTokens(n int) Option {
	return func(m *Manager) { m.maxPromptTokens = n }
}

// NewManager builds a JobManager. self/signingKey identify and sign
// the messages this node appends to job inboxes (both the user's
// locally-submitted turn and the assistant's reply travel through the
// same envelope format as networked messages).
func NewManager(db store.Store, inboxes *inbox.Store, vfsStore *vfs.VFS, embeddings vfs.EmbeddingGenerator, inference InferenceClient, self identity.Name, signingKey sagecrypto.KeyPair, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		inboxes:         inboxes,
		vfsStore:        vfsStore,
		embeddings:      embeddings,
		inference:       inference,
		self:            self,
		signingKey:      signingKey,
		retrievalK:      defaultRetrievalK,
		maxPromptTokens: defaultMaxPromptTokens,
		jobs:            make(map[string]*Job),
		locks:           make(map[string]*sync.Mutex),
		events:          NoopEvents{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lockFor(jobID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[jobID] = l
	}
	return l
}

func (m *Manager) persistJob(ctx context.Context, j *Job) error {
	m.mu.Lock()
	m.jobs[j.JobID] = j
	m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("job: marshal: %w", err)
	}
	return m.db.Put(ctx, store.CFJobs, j.JobID, data)
}

// getJob returns the in-memory Job record, which persistJob/CreateJob
// always keep current; db is the durability layer, not the read path.
func (m *Manager) getJob(jobID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return j, nil
}

// CreateJob registers a new Job owned by owner, bound to
// llmProviderID and scoped to info.JobScope.
func (m *Manager) CreateJob(ctx context.Context, owner identity.Name, info CreationInfo, llmProviderID string) (*Job, error) {
	j := &Job{
		JobID:          uuid.NewString(),
		Owner:          owner,
		LLMProviderID:  llmProviderID,
		JobScope:       info.JobScope,
		Config:         info.Config,
		AssociatedUI:   info.AssociatedUI,
		CallbackAction: info.CallbackAction,
		CreationTime:   time.Now(),
	}
	if j.Config == nil {
		j.Config = make(map[string]string)
	}
	if err := m.persistJob(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ChangeJobAgent rebinds job_id to a different LLM provider.
func (m *Manager) ChangeJobAgent(ctx context.Context, jobID, newLLMProviderID string) error {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	j, err := m.getJob(jobID)
	if err != nil {
		return err
	}
	j.LLMProviderID = newLLMProviderID
	return m.persistJob(ctx, j)
}

// UpdateJobScope replaces job_id's retrieval scope.
func (m *Manager) UpdateJobScope(ctx context.Context, jobID string, scope []vfs.VRPath) error {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	j, err := m.getJob(jobID)
	if err != nil {
		return err
	}
	j.JobScope = scope
	return m.persistJob(ctx, j)
}

// UpdateJobConfig merges cfg into job_id's config map.
func (m *Manager) UpdateJobConfig(ctx context.Context, jobID string, cfg map[string]string) error {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	j, err := m.getJob(jobID)
	if err != nil {
		return err
	}
	if j.Config == nil {
		j.Config = make(map[string]string)
	}
	for k, v := range cfg {
		j.Config[k] = v
	}
	return m.persistJob(ctx, j)
}

// RemoveJob deletes job_id's inbox and job record.
func (m *Manager) RemoveJob(ctx context.Context, jobID string) error {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.getJob(jobID); err != nil {
		return err
	}
	if err := m.inboxes.RemoveJob(ctx, jobID); err != nil && err != inbox.ErrJobNotFound {
		return err
	}
	m.mu.Lock()
	delete(m.jobs, jobID)
	delete(m.locks, jobID)
	m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	return m.db.Delete(ctx, store.CFJobs, jobID)
}

// Fork creates a new job sharing the message-tree prefix up to
// atMessageHash.
func (m *Manager) Fork(ctx context.Context, jobID, atMessageHash string) (*Job, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	src, err := m.getJob(jobID)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	sourceInbox := message.JobInboxName(jobID)
	_, newJobID, err := m.inboxes.Fork(ctx, sourceInbox, atMessageHash)
	if err != nil {
		return nil, fmt.Errorf("job: fork: %w", err)
	}

	forked := &Job{
		JobID:          newJobID,
		Owner:          src.Owner,
		LLMProviderID:  src.LLMProviderID,
		JobScope:       append([]vfs.VRPath(nil), src.JobScope...),
		Config:         cloneConfig(src.Config),
		AssociatedUI:   src.AssociatedUI,
		CallbackAction: src.CallbackAction,
		CreationTime:   time.Now(),
	}
	if err := m.persistJob(ctx, forked); err != nil {
		return nil, err
	}
	return forked, nil
}

func cloneConfig(cfg map[string]string) map[string]string {
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

// buildMessage constructs a locally-authored, signed envelope for one
// of job_id's own inbox writes (user turn, assistant reply, tool-call
// pair, or system-error node).
func (m *Manager) buildMessage(j *Job, content string, schema message.SchemaType, inboxName string) (*message.Message, error) {
	msg := &message.Message{
		Body: message.Body{Inner: &message.ShinkaiBody{
			MessageData: message.MessageData{Content: content, Schema: schema},
			InternalMetadata: message.InternalMetadata{
				InboxName:        inboxName,
				EncryptionMethod: message.EncryptionNone,
			},
		}},
		ExternalMetadata: message.ExternalMetadata{
			Sender:        m.self.String(),
			Recipient:     j.Owner.String(),
			ScheduledTime: time.Now().UTC(),
		},
		Encryption: message.EncryptionNone,
		Version:    message.CurrentVersion,
	}
	if m.signingKey != nil {
		if err := message.SignOuter(msg, m.signingKey); err != nil {
			return nil, fmt.Errorf("job: sign message: %w", err)
		}
	}
	return msg, nil
}

// JobMessage runs the job_message flow: append the user's turn,
// retrieve context from job_scope, build a budgeted prompt, call the
// inference collaborator, and append its reply (or a system-error node
// on failure) with correct parent pointers.
func (m *Manager) JobMessage(ctx context.Context, jobID, content string, attachments []Attachment, callback json.RawMessage) (*InferenceResponse, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	j, err := m.getJob(jobID)
	if err != nil {
		return nil, err
	}

	inboxName := message.JobInboxName(jobID)
	parentHash := ""
	if meta, err := m.inboxes.Meta(inboxName); err == nil {
		parentHash = meta.Head
	}

	userMsg, err := m.buildMessage(j, content, message.SchemaJobMessage, inboxName)
	if err != nil {
		return nil, err
	}
	storedUser, err := m.inboxes.Insert(ctx, inboxName, userMsg, parentHash)
	if err != nil {
		return nil, fmt.Errorf("job: append user message: %w", err)
	}

	subPrompts, err := m.retrieve(ctx, j, content)
	if err != nil {
		return nil, fmt.Errorf("job: retrieval: %w", err)
	}
	subPrompts = append(subPrompts, prompt.SubPrompt{
		Kind: prompt.KindContent, Role: prompt.RoleUserLastMessage, Text: content, Priority: 100,
	})

	maxTokens := m.maxPromptTokens
	if raw, ok := j.Config["max_input_tokens"]; ok {
		if n, convErr := parsePositiveInt(raw); convErr == nil {
			maxTokens = n
		}
	}

	p := &prompt.Prompt{SubPrompts: subPrompts}
	p.EnforceAssetLimits(nil)
	p.RemoveSubPromptsUntilUnderMax(maxTokens)
	providerMessages := p.Assemble()

	req := InferenceRequest{
		JobID:          jobID,
		LLMProviderID:  j.LLMProviderID,
		Messages:       toProviderViews(providerMessages),
		MaxInputTokens: maxTokens,
	}

	resp, err := m.inference.Infer(ctx, req)
	if err != nil {
		errMsg, buildErr := m.buildMessage(j, err.Error(), message.SchemaSystemError, inboxName)
		if buildErr != nil {
			return nil, buildErr
		}
		if _, insErr := m.inboxes.Insert(ctx, inboxName, errMsg, storedUser.Hash); insErr != nil {
			return nil, fmt.Errorf("job: append system-error node: %w", insErr)
		}
		m.events.OnInferenceFailed(jobID, err)
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}

	assistantMsg, err := m.buildMessage(j, resp.Content, message.SchemaJobMessage, inboxName)
	if err != nil {
		return nil, err
	}
	storedAssistant, err := m.inboxes.Insert(ctx, inboxName, assistantMsg, storedUser.Hash)
	if err != nil {
		return nil, fmt.Errorf("job: append assistant message: %w", err)
	}

	parent := storedAssistant.Hash
	for _, tc := range resp.ToolCalls {
		callBytes, merr := json.Marshal(tc)
		if merr != nil {
			return nil, fmt.Errorf("job: marshal tool call: %w", merr)
		}
		callMsg, err := m.buildMessage(j, string(callBytes), message.SchemaJobMessage, inboxName)
		if err != nil {
			return nil, err
		}
		storedCall, err := m.inboxes.Insert(ctx, inboxName, callMsg, parent)
		if err != nil {
			return nil, fmt.Errorf("job: append tool call: %w", err)
		}
		respMsg, err := m.buildMessage(j, string(tc.Response), message.SchemaJobMessage, inboxName)
		if err != nil {
			return nil, err
		}
		storedResp, err := m.inboxes.Insert(ctx, inboxName, respMsg, storedCall.Hash)
		if err != nil {
			return nil, fmt.Errorf("job: append tool response: %w", err)
		}
		parent = storedResp.Hash
	}

	cb := callback
	if cb == nil {
		cb = j.CallbackAction
	}
	if cb != nil && m.callbacks != nil {
		if err := m.callbacks.Dispatch(ctx, jobID, cb, resp); err != nil {
			m.events.OnCallbackFailed(jobID, err)
		}
	}

	return &resp, nil
}

// RetryMessage re-invokes inference from messageID's content, as if it
// had just been appended: a new copy of that turn is appended at the
// inbox head and the fresh assistant reply goes under the copy, while
// the original message is left untouched (messages are never mutated
// once stored).
func (m *Manager) RetryMessage(ctx context.Context, jobID, messageID string) (*InferenceResponse, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	j, err := m.getJob(jobID)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	inboxName := message.JobInboxName(jobID)
	generations, err := m.inboxes.LastMessages(ctx, inboxName, 0, "")
	if err != nil {
		return nil, fmt.Errorf("job: load inbox for retry: %w", err)
	}
	var target *inbox.StoredMessage
	for _, gen := range generations {
		for _, sm := range gen {
			if sm.Hash == messageID {
				target = sm
			}
		}
	}
	if target == nil || target.Message.Body.Inner == nil {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return m.JobMessage(ctx, j.JobID, target.Message.Body.Inner.MessageData.Content, nil, nil)
}

// retrieve runs a DynamicVectorSearch over each of j's job_scope
// paths, merging and re-ranking the results into a single batch of
// ExtraContext sub-prompts, scoped strictly to job_scope.
func (m *Manager) retrieve(ctx context.Context, j *Job, queryText string) ([]prompt.SubPrompt, error) {
	if len(j.JobScope) == 0 {
		return nil, nil
	}

	var merged []vfs.SearchResult
	for _, path := range j.JobScope {
		results, err := m.vfsStore.DynamicVectorSearch(ctx, j.Owner, j.Owner, queryText, m.retrievalK, vfs.SearchOptions{ScoringMode: vfs.ScoringHierarchicalAverage}, path, m.embeddings)
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}

	sort.SliceStable(merged, func(a, b int) bool { return merged[a].Score > merged[b].Score })
	if len(merged) > m.retrievalK {
		merged = merged[:m.retrievalK]
	}

	subPrompts := make([]prompt.SubPrompt, 0, len(merged))
	for _, r := range merged {
		if r.Node.Kind != vfs.ContentText {
			continue
		}
		subPrompts = append(subPrompts, prompt.SubPrompt{
			Kind:     prompt.KindContent,
			Role:     prompt.RoleExtraContext,
			Text:     r.Node.Text,
			Priority: 50,
		})
	}
	return subPrompts, nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("job: non-positive token budget %q", s)
	}
	return n, nil
}

func toProviderViews(messages []prompt.ProviderMessage) []ProviderMessageView {
	out := make([]ProviderMessageView, len(messages))
	for i, pm := range messages {
		out[i] = ProviderMessageView{Role: string(pm.Role), Text: pm.Text, Assets: pm.Assets}
	}
	return out
}
