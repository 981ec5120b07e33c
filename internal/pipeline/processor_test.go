// ABOUTME: Processor tests: default echo strategy, dedupe, concurrency bound.

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-protocol/parley/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessor_EchoStrategyByDefault(t *testing.T) {
	p := New(Config{}, nil, testLogger())
	defer p.Close()

	req := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", map[string]any{"file": "main.go"})
	result, err := p.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, string(protocol.TypeRequestContext), result["operation"])
	assert.Equal(t, map[string]any{"file": "main.go"}, result["echo"])
}

func TestProcessor_DedupeInvokesHandlerOnce(t *testing.T) {
	p := New(Config{}, nil, testLogger())
	defer p.Close()

	var calls atomic.Int64
	require.NoError(t, p.SetHandler(protocol.TypeRequestAnalyze,
		func(ctx context.Context, req *protocol.Request) (map[string]any, error) {
			return map[string]any{"calls": calls.Add(1)}, nil
		}))

	payload := map[string]any{"path": "main.go"}
	first := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", payload)
	second := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", payload)

	r1, err := p.Process(context.Background(), first)
	require.NoError(t, err)
	r2, err := p.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load(), "identical asks must run once")
	assert.Equal(t, r1, r2, "repeat must be served the cached result")
}

func TestProcessor_DistinctRequestsBothRun(t *testing.T) {
	p := New(Config{}, nil, testLogger())
	defer p.Close()

	var calls atomic.Int64
	require.NoError(t, p.SetHandler(protocol.TypeRequestAnalyze,
		func(ctx context.Context, req *protocol.Request) (map[string]any, error) {
			return map[string]any{"calls": calls.Add(1)}, nil
		}))

	_, err := p.Process(context.Background(),
		protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"path": "a.go"}))
	require.NoError(t, err)
	_, err = p.Process(context.Background(),
		protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"path": "b.go"}))
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessor_FailuresAreNotCached(t *testing.T) {
	p := New(Config{}, nil, testLogger())
	defer p.Close()

	var calls atomic.Int64
	require.NoError(t, p.SetHandler(protocol.TypeRequestValidate,
		func(ctx context.Context, req *protocol.Request) (map[string]any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("transient failure")
			}
			return map[string]any{"valid": true}, nil
		}))

	payload := map[string]any{"code": "package main"}
	_, err := p.Process(context.Background(),
		protocol.NewRequest(protocol.TypeRequestValidate, "agent-a", payload))
	require.Error(t, err)

	result, err := p.Process(context.Background(),
		protocol.NewRequest(protocol.TypeRequestValidate, "agent-a", payload))
	require.NoError(t, err, "retry after a failure must re-run the handler")
	assert.Equal(t, map[string]any{"valid": true}, result)
	assert.Equal(t, int64(2), calls.Load())
}

func TestProcessor_BoundsConcurrentExecution(t *testing.T) {
	p := New(Config{MaxConcurrent: 2}, nil, testLogger())
	defer p.Close()

	var active, peak atomic.Int64
	gate := make(chan struct{})
	require.NoError(t, p.SetHandler(protocol.TypeRequestAnalyze,
		func(ctx context.Context, req *protocol.Request) (map[string]any, error) {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-gate
			active.Add(-1)
			return map[string]any{"done": true}, nil
		}))

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"n": i})
			_, err := p.Process(context.Background(), req)
			assert.NoError(t, err)
		}()
	}

	// Let two workers occupy the slots and the rest queue up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), peak.Load(), "exactly the bound should be executing")

	close(gate)
	wg.Wait()
	assert.Equal(t, int64(2), peak.Load(), "the bound must hold for the whole run")
	assert.Equal(t, int64(0), active.Load())
}

func TestProcessor_QueuedRequestHonorsContext(t *testing.T) {
	p := New(Config{MaxConcurrent: 1}, nil, testLogger())
	defer p.Close()

	block := make(chan struct{})
	require.NoError(t, p.SetHandler(protocol.TypeRequestAnalyze,
		func(ctx context.Context, req *protocol.Request) (map[string]any, error) {
			<-block
			return nil, nil
		}))

	occupied := make(chan struct{})
	go func() {
		defer close(occupied)
		req := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"n": 1})
		p.Process(context.Background(), req)
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	req := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"n": 2})
	_, err := p.Process(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a queued request must give up with its context")

	close(block)
	<-occupied
}

func TestProcessor_SetHandlerValidation(t *testing.T) {
	p := New(Config{}, nil, testLogger())
	defer p.Close()

	err := p.SetHandler(protocol.TypeContextChanged, EchoHandler)
	assert.Error(t, err, "notifications have no strategy slot")

	err = p.SetHandler(protocol.TypeRequestAnalyze, nil)
	assert.Error(t, err, "nil strategies are rejected")
}
