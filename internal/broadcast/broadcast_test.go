package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	mu    sync.Mutex
	value int
}

func (c *counterState) snapshot() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{"value": c.value}
}

func (c *counterState) increment() func() (any, error) {
	return func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.value++
		return map[string]int{"value": c.value}, nil
	}
}

type sliceRecorder struct {
	mu     sync.Mutex
	events []blackboard.Event
	fail   bool
}

func (r *sliceRecorder) Append(_ context.Context, sessionID string, ev blackboard.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("store down")
	}
	r.events = append(r.events, ev)
	return nil
}

func TestSnapshotThenOrderedDeltas(t *testing.T) {
	state := &counterState{}
	b := New(Options{SessionID: "s", Snapshot: state.snapshot})
	defer b.Close()

	for i := 0; i < 3; i++ {
		_, err := b.Emit(blackboard.EventFactSet, state.increment())
		require.NoError(t, err)
	}

	sub, err := b.Subscribe()
	require.NoError(t, err)

	snap := <-sub.Events()
	assert.Equal(t, blackboard.EventSnapshot, snap.Type)
	assert.Equal(t, uint64(3), snap.Seq)
	assert.Equal(t, "s", snap.SessionID)
	var view map[string]int
	require.NoError(t, snap.Decode(&view))
	assert.Equal(t, 3, view["value"])

	for i := 0; i < 5; i++ {
		_, err := b.Emit(blackboard.EventFactSet, state.increment())
		require.NoError(t, err)
	}
	for want := uint64(4); want <= 8; want++ {
		ev := <-sub.Events()
		assert.Equal(t, want, ev.Seq)
		var payload map[string]int
		require.NoError(t, ev.Decode(&payload))
		assert.Equal(t, int(want), payload["value"])
	}
	assert.Equal(t, 1, b.Observers())
}

func TestConcurrentSubscribeNeverSeesGap(t *testing.T) {
	state := &counterState{}
	b := New(Options{SessionID: "s", Snapshot: state.snapshot, Buffer: 256})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, _ = b.Emit(blackboard.EventFactSet, state.increment())
		}
	}()

	subs := make([]*Subscriber, 0, 10)
	for i := 0; i < 10; i++ {
		sub, err := b.Subscribe()
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	wg.Wait()
	b.Close()

	for _, sub := range subs {
		snap := <-sub.Events()
		var view map[string]int
		require.NoError(t, snap.Decode(&view))
		// The snapshot state matches its seq exactly
		assert.Equal(t, int(snap.Seq), view["value"])

		last := snap.Seq
		for ev := range sub.Events() {
			assert.Equal(t, last+1, ev.Seq)
			last = ev.Seq
		}
		assert.Equal(t, uint64(100), last)
	}
}

func TestSlowObserverIsDropped(t *testing.T) {
	state := &counterState{}
	var dropped []*DeliveryFailure
	var mu sync.Mutex
	b := New(Options{
		SessionID: "s",
		Snapshot:  state.snapshot,
		Buffer:    2,
		OnDrop: func(f *DeliveryFailure) {
			mu.Lock()
			dropped = append(dropped, f)
			mu.Unlock()
		},
	})
	defer b.Close()

	slow, err := b.Subscribe()
	require.NoError(t, err)
	fast, err := b.Subscribe()
	require.NoError(t, err)

	received := make(chan uint64, 10)
	go func() {
		for ev := range fast.Events() {
			received <- ev.Seq
		}
		close(received)
	}()

	for i := 0; i < 3; i++ {
		_, err := b.Emit(blackboard.EventFactSet, state.increment())
		require.NoError(t, err)
		// Let the fast observer keep up
		time.Sleep(10 * time.Millisecond)
	}

	// The slow observer got its snapshot and two deltas, then was dropped
	var seqs []uint64
	for ev := range slow.Events() {
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
	assert.True(t, IsDeliveryFailure(slow.Err()))

	mu.Lock()
	require.Len(t, dropped, 1)
	assert.Equal(t, slow.ID(), dropped[0].SubscriberID)
	assert.Equal(t, uint64(3), dropped[0].Seq)
	mu.Unlock()

	assert.Equal(t, 1, b.Observers())
	assert.NoError(t, fast.Err())
	fast.Close()

	var fastSeqs []uint64
	for seq := range received {
		fastSeqs = append(fastSeqs, seq)
	}
	assert.Equal(t, []uint64{0, 1, 2, 3}, fastSeqs)
}

func TestFailedMutationPublishesNothing(t *testing.T) {
	b := New(Options{SessionID: "s"})
	defer b.Close()

	sub, err := b.Subscribe()
	require.NoError(t, err)
	<-sub.Events()

	_, err = b.Emit(blackboard.EventTurnAppended, func() (any, error) {
		return nil, errors.New("invariant broken")
	})
	require.Error(t, err)
	assert.Equal(t, uint64(0), b.Seq())

	ev, err := b.Publish(blackboard.EventPaused, map[string]bool{"paused": true})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, uint64(1), (<-sub.Events()).Seq)
}

func TestRecorderReceivesEveryEventOnClose(t *testing.T) {
	rec := &sliceRecorder{}
	b := New(Options{SessionID: "s", Recorder: rec})

	for i := 0; i < 50; i++ {
		_, err := b.Publish(blackboard.EventFactSet, i)
		require.NoError(t, err)
	}
	b.Close()
	b.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 50)
	for i, ev := range rec.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	_, err := b.Publish(blackboard.EventFactSet, 51)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = b.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorderFailureDoesNotStopBroadcast(t *testing.T) {
	rec := &sliceRecorder{fail: true}
	b := New(Options{SessionID: "s", Recorder: rec})

	sub, err := b.Subscribe()
	require.NoError(t, err)
	<-sub.Events()

	_, err = b.Publish(blackboard.EventFactSet, "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), (<-sub.Events()).Seq)
	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
}
