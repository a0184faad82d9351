package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinkai-run/shinkai-node/crypto/keys"
	"github.com/shinkai-run/shinkai-node/identity"
	"github.com/shinkai-run/shinkai-node/inbox"
	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/store/memory"
	"github.com/shinkai-run/shinkai-node/vfs"
)

func mustName(t *testing.T, s string) identity.Name {
	t.Helper()
	n, err := identity.ParseName(s)
	require.NoError(t, err)
	return n
}

type fakeInference struct {
	mu       sync.Mutex
	response InferenceResponse
	err      error
	calls    int
}

func (f *fakeInference) Infer(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return InferenceResponse{}, f.err
	}
	return f.response, nil
}

type fakeEmbeddings struct{}

func (fakeEmbeddings) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeCallback struct {
	mu       sync.Mutex
	dispatched int
	err      error
}

func (f *fakeCallback) Dispatch(ctx context.Context, jobID string, action json.RawMessage, resp InferenceResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched++
	return f.err
}

func newTestManager(t *testing.T, inference InferenceClient, opts ...Option) (*Manager, *vfs.VFS) {
	t.Helper()
	db := memory.NewStore()
	ibx := inbox.NewStore(db)
	vfsStore := vfs.NewVFS(db)

	self := mustName(t, "node.shinkai")
	signKey, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	m := NewManager(db, ibx, vfsStore, fakeEmbeddings{}, inference, self, signKey, opts...)
	return m, vfsStore
}

func TestCreateJobPersistsAndRoundTrips(t *testing.T) {
	m, _ := newTestManager(t, &fakeInference{})
	owner := mustName(t, "node.shinkai/alice")

	j, err := m.CreateJob(context.Background(), owner, CreationInfo{AssociatedUI: "web"}, "provider-a")
	require.NoError(t, err)
	assert.NotEmpty(t, j.JobID)
	assert.Equal(t, "provider-a", j.LLMProviderID)

	got, err := m.getJob(j.JobID)
	require.NoError(t, err)
	assert.Equal(t, j.JobID, got.JobID)
	assert.Equal(t, "web", got.AssociatedUI)
}

func TestJobMessageAppendsUserAndAssistantTurns(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "hello back"}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	resp, err := m.JobMessage(ctx, j.JobID, "hi there", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello back", resp.Content)
	assert.Equal(t, 1, infer.calls)

	generations, err := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, err)
	require.Len(t, generations, 2, "expect one generation for the user turn and one for the assistant reply")
}

func TestJobMessageWithToolCallsChainsPairs(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{
		Content: "used a tool",
		ToolCalls: []ToolCall{
			{Name: "search", Arguments: map[string]ToolValue{"q": {Kind: ToolValueString, String: "weather"}}, Response: json.RawMessage(`{"ok":true}`)},
		},
	}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "what's the weather", nil, nil)
	require.NoError(t, err)

	generations, err := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, err)
	require.Len(t, generations, 4, "user, assistant, tool call, tool response")
}

func TestJobMessageInferenceFailureAppendsSystemError(t *testing.T) {
	infer := &fakeInference{err: errors.New("provider unreachable")}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "hi", nil, nil)
	require.ErrorIs(t, err, ErrInferenceFailed)

	generations, lErr := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, lErr)
	require.Len(t, generations, 2)
	last := generations[len(generations)-1]
	require.Len(t, last, 1)
	assert.Contains(t, last[0].Message.Body.Inner.MessageData.Content, "provider unreachable")
}

func TestJobMessageDispatchesCallback(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "done"}}
	cb := &fakeCallback{}
	m, _ := newTestManager(t, infer, WithCallbackDispatcher(cb))
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{CallbackAction: json.RawMessage(`{"action":"notify"}`)}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, cb.dispatched)
}

func TestJobMessageRetrievesScopedContext(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "ok"}}
	m, vfsStore := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	vfsStore.EnsureProfile(owner)
	folder, err := vfsStore.CreateFolder(ctx, owner, owner, vfs.RootPath(), "docs")
	require.NoError(t, err)

	res := vfs.NewVectorResource("res-notes", "notes", "test-model", vfs.KindDocument)
	require.NoError(t, res.AddNode("", vfs.Node{Kind: vfs.ContentText, Text: "the sky is blue"}, []float32{1, 0, 0}))
	_, err = vfsStore.SaveItem(ctx, owner, owner, folder.Path, "notes", res, nil)
	require.NoError(t, err)

	j, err := m.CreateJob(ctx, owner, CreationInfo{JobScope: []vfs.VRPath{folder.Path}}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "what color is the sky", nil, nil)
	require.NoError(t, err)
}

func TestJobMessageSerializesPerJobConcurrently(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "ok"}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := m.JobMessage(ctx, j.JobID, "concurrent message", nil, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	generations, err := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, err)
	assert.Len(t, generations, 20, "10 user + 10 assistant turns, none interleaved incorrectly")
}

func TestForkCopiesJobMetadataUnderNewID(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "first reply"}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{JobScope: []vfs.VRPath{vfs.RootPath()}}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "hi", nil, nil)
	require.NoError(t, err)

	generations, err := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, err)
	userMsgHash := generations[0][0].Hash

	forked, err := m.Fork(ctx, j.JobID, userMsgHash)
	require.NoError(t, err)
	assert.NotEqual(t, j.JobID, forked.JobID)
	assert.Equal(t, j.LLMProviderID, forked.LLMProviderID)
}

func TestRemoveJobDeletesInboxAndRecord(t *testing.T) {
	m, _ := newTestManager(t, &fakeInference{})
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	require.NoError(t, m.RemoveJob(ctx, j.JobID))
	_, err = m.getJob(j.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRetryMessageReplaysLatestUserContent(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "reply one"}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	_, err = m.JobMessage(ctx, j.JobID, "first question", nil, nil)
	require.NoError(t, err)

	generations, err := m.inboxes.LastMessages(ctx, message.JobInboxName(j.JobID), 0, "")
	require.NoError(t, err)
	userHash := generations[0][0].Hash

	infer.response = InferenceResponse{Content: "reply two"}
	resp, err := m.RetryMessage(ctx, j.JobID, userHash)
	require.NoError(t, err)
	assert.Equal(t, "reply two", resp.Content)
}
