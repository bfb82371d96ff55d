package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflow-sh/reflow/pkg/schema"
)

func recvOne(t *testing.T, ch <-chan RunEvent) RunEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return RunEvent{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	event := RunEvent{
		FlowID:    "f-1",
		RunID:     "r-1",
		OpID:      2,
		EventType: schema.TraceOpStarted,
		Trace:     &schema.TraceEvent{Type: schema.TraceOpStarted, OpID: 2, OpType: "SlackBubble"},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := recvOne(t, ch)
	assert.Equal(t, "r-1", got.RunID)
	assert.Equal(t, 2, got.OpID)
	require.NotNil(t, got.Trace)
	assert.Equal(t, "SlackBubble", got.Trace.OpType)
}

func TestFilterByRun(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{RunID: "r-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-2", EventType: schema.TraceLine}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceLine}))

	got := recvOne(t, ch)
	assert.Equal(t, "r-1", got.RunID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected event for run %s", extra.RunID)
	default:
	}
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{
		EventTypes: []string{schema.TraceOpFailed, schema.EventRunFailed},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceLine}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceOpCompleted}))
	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceOpFailed}))

	got := recvOne(t, ch)
	assert.Equal(t, schema.TraceOpFailed, got.EventType)
}

func TestCancelUnsubscribes(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceLine}))

	select {
	case <-ch:
		t.Fatal("received event after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	// Fill the buffer well past capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultChannelBuffer*2; i++ {
			_ = hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceLine})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, Filter{})
			if err != nil {
				t.Error(err)
				return
			}
			defer cancel()
			for j := 0; j < 20; j++ {
				_ = hub.Publish(ctx, RunEvent{RunID: "r-1", EventType: schema.TraceLine})
			}
			select {
			case <-ch:
			case <-time.After(time.Second):
			}
		}()
	}
	wg.Wait()
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancelCtx := context.WithCancel(context.Background())
	cancelCtx()

	_, _, err := hub.Subscribe(ctx, Filter{})
	require.Error(t, err)

	err = hub.Publish(ctx, RunEvent{RunID: "r-1"})
	require.Error(t, err)
}
