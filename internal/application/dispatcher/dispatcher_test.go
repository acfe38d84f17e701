package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(string, ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(append([]interface{}{msg}, keysAndValues...)...))
}

func (m *mockLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func transitionEvent(definitionID string) *event.Event {
	return event.NewEvent(event.TypeTransitionCompleted, "inst-1", definitionID, map[string]interface{}{
		event.PayloadFromState: "draft",
		event.PayloadToState:   "review",
	})
}

func TestDispatch_MatchesTypesAndDefinition(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var got []string
	sub := func(name string) Handler {
		return func(ctx context.Context, evt *event.Event) error {
			got = append(got, name)
			return nil
		}
	}
	require.NoError(t, d.Subscribe(Subscription{Name: "all", Handle: sub("all")}))
	require.NoError(t, d.Subscribe(Subscription{
		Name:   "transitions",
		Types:  []event.Type{event.TypeTransitionCompleted, event.TypeTransitionRejected},
		Handle: sub("transitions"),
	}))
	require.NoError(t, d.Subscribe(Subscription{
		Name:   "completions",
		Types:  []event.Type{event.TypeInstanceCompleted},
		Handle: sub("completions"),
	}))
	require.NoError(t, d.Subscribe(Subscription{
		Name:         "orders-only",
		DefinitionID: "order-flow",
		Handle:       sub("orders-only"),
	}))

	require.NoError(t, d.Dispatch(context.Background(), transitionEvent("ticket-flow")))
	assert.Equal(t, []string{"all", "transitions"}, got)

	got = nil
	require.NoError(t, d.Dispatch(context.Background(), transitionEvent("order-flow")))
	assert.Equal(t, []string{"all", "transitions", "orders-only"}, got)
}

func TestSubscribe_Rejects(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	noop := func(context.Context, *event.Event) error { return nil }
	require.NoError(t, d.Subscribe(Subscription{Name: "audit", Handle: noop}))

	assert.ErrorIs(t, d.Subscribe(Subscription{Name: "audit", Handle: noop}), ErrDuplicateSubscriber)
	assert.Error(t, d.Subscribe(Subscription{Name: "", Handle: noop}))
	assert.Error(t, d.Subscribe(Subscription{Name: "nil-handler"}))
	assert.Error(t, d.Subscribe(Subscription{Name: "typo", Types: []event.Type{"instance.finished"}, Handle: noop}))
}

func TestDispatch_RunsEverySubscriberAndJoinsErrors(t *testing.T) {
	logger := &mockLogger{}
	d := NewDispatcher(WithLogger(logger))
	defer d.Close()

	boom := errors.New("boom")
	afterRan := false
	require.NoError(t, d.Subscribe(Subscription{Name: "broken", Handle: func(context.Context, *event.Event) error {
		return boom
	}}))
	require.NoError(t, d.Subscribe(Subscription{Name: "panicky", Handle: func(context.Context, *event.Event) error {
		panic("subscriber exploded")
	}}))
	require.NoError(t, d.Subscribe(Subscription{Name: "after", Handle: func(context.Context, *event.Event) error {
		afterRan = true
		return nil
	}}))

	err := d.Dispatch(context.Background(), transitionEvent("d"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "subscriber panic")
	assert.True(t, afterRan)
	assert.Equal(t, 2, logger.count())

	stats := d.Stats()
	require.Len(t, stats, 3)
	assert.Equal(t, int64(1), stats[0].Failed)
	assert.Equal(t, int64(1), stats[1].Failed)
	assert.Equal(t, int64(1), stats[2].Delivered)
}

func TestDispatchAsync_PreservesOrderAndDetachesCancellation(t *testing.T) {
	d := NewDispatcher()

	var (
		mu     sync.Mutex
		seq    []string
		ctxErr []error
	)
	require.NoError(t, d.Subscribe(Subscription{Name: "recorder", Handle: func(ctx context.Context, evt *event.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		seq = append(seq, evt.GetPayloadString(event.PayloadToState))
		ctxErr = append(ctxErr, ctx.Err())
		return nil
	}}))

	ctx, cancel := context.WithCancel(context.Background())
	states := []string{"draft", "review", "approved", "closed"}
	for _, s := range states {
		d.DispatchAsync(ctx, event.NewEvent(event.TypeTransitionCompleted, "inst-1", "d",
			map[string]interface{}{event.PayloadToState: s}))
	}
	cancel()

	require.NoError(t, d.Close())
	assert.Equal(t, states, seq)
	for _, err := range ctxErr {
		assert.NoError(t, err)
	}
}

func TestDispatchAsync_DropsWhenFullOrClosed(t *testing.T) {
	d := NewDispatcher(WithQueueSize(1))

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, d.Subscribe(Subscription{Name: "slow", Handle: func(context.Context, *event.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}))

	d.DispatchAsync(context.Background(), transitionEvent("d"))
	<-started
	d.DispatchAsync(context.Background(), transitionEvent("d"))
	d.DispatchAsync(context.Background(), transitionEvent("d"))
	assert.Equal(t, int64(1), d.Dropped())

	close(release)
	require.NoError(t, d.Close())

	d.DispatchAsync(context.Background(), transitionEvent("d"))
	assert.Equal(t, int64(2), d.Dropped())
	assert.ErrorIs(t, d.Dispatch(context.Background(), transitionEvent("d")), ErrClosed)
	assert.ErrorIs(t, d.Close(), ErrClosed)
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var calls atomic.Int32
	require.NoError(t, d.Subscribe(Subscription{Name: "counter", Handle: func(context.Context, *event.Event) error {
		calls.Add(1)
		return nil
	}}))

	assert.True(t, d.Unsubscribe("counter"))
	assert.False(t, d.Unsubscribe("counter"))
	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeInstanceStarted, "i", "d", nil)))
	assert.Zero(t, calls.Load())
	assert.Empty(t, d.Stats())
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	defer d.Close()

	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = d.Subscribe(Subscription{Name: fmt.Sprintf("sub-%d", i), Handle: func(context.Context, *event.Event) error {
				calls.Add(1)
				return nil
			}})
		}(i)
		go func() {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), transitionEvent("d"))
		}()
	}
	wg.Wait()

	require.NoError(t, d.Dispatch(context.Background(), transitionEvent("d")))
	assert.GreaterOrEqual(t, calls.Load(), int64(10))
}
