package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueRunsEnqueuedMessagesThroughWorkerPool(t *testing.T) {
	infer := &fakeInference{response: InferenceResponse{Content: "ok"}}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	q := NewQueue(m, nil, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, j.JobID, "queued message"))
	}
	q.Close()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, q.Run(runCtx))
	require.Equal(t, 5, infer.calls)
}

func TestQueueToleratesInferenceFailures(t *testing.T) {
	infer := &fakeInference{err: errors.New("provider down")}
	m, _ := newTestManager(t, infer)
	owner := mustName(t, "node.shinkai/alice")
	ctx := context.Background()

	j, err := m.CreateJob(ctx, owner, CreationInfo{}, "provider-a")
	require.NoError(t, err)

	q := NewQueue(m, nil, 1)
	require.NoError(t, q.Enqueue(ctx, j.JobID, "will fail"))
	q.Close()

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, q.Run(runCtx), "an inference failure must not abort the worker pool")
}
