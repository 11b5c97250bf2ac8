// Package broadcast fans the event stream of one session out to live observers.
//
// Every observer receives a full snapshot first, then every delta with a
// higher sequence number, in order and without gaps. Observers that cannot
// keep up are disconnected instead of slowing the performance down.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
)

// DefaultBuffer is the per-observer queue length.
const DefaultBuffer = 64

// DefaultRecordTimeout bounds one Recorder.Append call.
const DefaultRecordTimeout = 5 * time.Second

// ErrClosed is returned by Emit and Subscribe after Close.
var ErrClosed = errors.New("broadcaster closed")

// Recorder persists emitted events. Append is called from a single goroutine
// in sequence order.
type Recorder interface {
	Append(ctx context.Context, sessionID string, ev blackboard.Event) error
}

// DeliveryFailure reports an observer that was dropped because its queue was full.
type DeliveryFailure struct {
	SessionID    string
	SubscriberID uint64
	Seq          uint64
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("observer %d of session '%s' dropped at seq %d: queue full", e.SubscriberID, e.SessionID, e.Seq)
}

// IsDeliveryFailure reports whether err is a DeliveryFailure.
func IsDeliveryFailure(err error) bool {
	var df *DeliveryFailure
	return errors.As(err, &df)
}

// Options configures a Broadcaster.
type Options struct {
	SessionID string

	// Snapshot builds the payload of the snapshot event. It is called with the
	// broadcaster lock held, so it sees exactly the state of the last delta.
	Snapshot func() any

	Buffer        int
	Recorder      Recorder
	RecordTimeout time.Duration

	// OnDrop is called, without the lock held, for every dropped observer.
	OnDrop func(*DeliveryFailure)
}

// Broadcaster sequences and fans out the events of one session.
type Broadcaster struct {
	opts Options

	mu     sync.Mutex
	seq    uint64
	subs   map[uint64]*Subscriber
	nextID uint64
	closed bool

	// persistence queue, drained by sinkLoop
	pending  []blackboard.Event
	signal   chan struct{}
	sinkDone chan struct{}
}

// New creates a broadcaster and starts its persistence goroutine when a
// Recorder is configured.
func New(opts Options) *Broadcaster {
	if opts.Buffer < 1 {
		opts.Buffer = DefaultBuffer
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = DefaultRecordTimeout
	}
	if opts.Snapshot == nil {
		opts.Snapshot = func() any { return struct{}{} }
	}

	b := &Broadcaster{
		opts:     opts,
		subs:     make(map[uint64]*Subscriber),
		signal:   make(chan struct{}, 1),
		sinkDone: make(chan struct{}),
	}
	if opts.Recorder != nil {
		go b.sinkLoop()
	} else {
		close(b.sinkDone)
	}
	return b
}

// Seq returns the sequence number of the last emitted delta.
func (b *Broadcaster) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Emit applies mutate and publishes its result as the next delta. mutate runs
// under the broadcaster lock so no snapshot can observe its state change
// without the matching delta. If mutate fails nothing is published.
func (b *Broadcaster) Emit(eventType blackboard.EventType, mutate func() (any, error)) (blackboard.Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return blackboard.Event{}, ErrClosed
	}

	payload, err := mutate()
	if err != nil {
		b.mu.Unlock()
		return blackboard.Event{}, err
	}
	ev, err := blackboard.NewEvent(eventType, payload)
	if err != nil {
		b.mu.Unlock()
		return blackboard.Event{}, err
	}
	b.seq++
	ev.Seq = b.seq
	ev.SessionID = b.opts.SessionID

	dropped := b.fanOutLocked(ev)
	if b.opts.Recorder != nil {
		b.pending = append(b.pending, ev)
		select {
		case b.signal <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()

	b.reportDrops(dropped)
	return ev, nil
}

// Publish emits a delta whose payload needs no state change.
func (b *Broadcaster) Publish(eventType blackboard.EventType, payload any) (blackboard.Event, error) {
	return b.Emit(eventType, func() (any, error) { return payload, nil })
}

func (b *Broadcaster) fanOutLocked(ev blackboard.Event) []*DeliveryFailure {
	var dropped []*DeliveryFailure
	for id, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			failure := &DeliveryFailure{SessionID: b.opts.SessionID, SubscriberID: id, Seq: ev.Seq}
			sub.fail(failure)
			delete(b.subs, id)
			dropped = append(dropped, failure)
		}
	}
	return dropped
}

func (b *Broadcaster) reportDrops(dropped []*DeliveryFailure) {
	for _, failure := range dropped {
		log.Printf("[Broadcast] %v", failure)
		if b.opts.OnDrop != nil {
			b.opts.OnDrop(failure)
		}
	}
}

// Subscribe registers an observer. Its first event is a snapshot carrying the
// seq of the last delta already applied; every later event is a delta with a
// strictly greater seq.
func (b *Broadcaster) Subscribe() (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	snap, err := blackboard.NewEvent(blackboard.EventSnapshot, b.opts.Snapshot())
	if err != nil {
		return nil, err
	}
	snap.Seq = b.seq
	snap.SessionID = b.opts.SessionID

	b.nextID++
	sub := &Subscriber{
		id:     b.nextID,
		events: make(chan blackboard.Event, b.opts.Buffer+1),
		parent: b,
	}
	sub.events <- snap
	b.subs[sub.id] = sub
	return sub, nil
}

// Observers returns the number of connected observers.
func (b *Broadcaster) Observers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every observer and waits until all emitted events have
// been handed to the Recorder.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.sinkDone
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.events)
		delete(b.subs, id)
	}
	close(b.signal)
	b.mu.Unlock()

	<-b.sinkDone
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.events)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) sinkLoop() {
	defer close(b.sinkDone)
	for {
		_, open := <-b.signal

		b.mu.Lock()
		batch := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, ev := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), b.opts.RecordTimeout)
			if err := b.opts.Recorder.Append(ctx, b.opts.SessionID, ev); err != nil {
				log.Printf("[Broadcast] Failed to record event %s seq=%d: %v", ev.Type, ev.Seq, err)
			}
			cancel()
		}

		if !open {
			return
		}
	}
}

// Subscriber is one observer's ordered event queue.
type Subscriber struct {
	id     uint64
	events chan blackboard.Event
	parent *Broadcaster

	mu  sync.Mutex
	err error
}

// ID returns the observer id.
func (s *Subscriber) ID() uint64 {
	return s.id
}

// Events returns the observer's event channel. It is closed when the observer
// is dropped, unsubscribes, or the broadcaster closes.
func (s *Subscriber) Events() <-chan blackboard.Event {
	return s.events
}

// Err returns the DeliveryFailure that disconnected the observer, if any.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes the observer.
func (s *Subscriber) Close() {
	s.parent.unsubscribe(s.id)
}

// fail is called with the broadcaster lock held.
func (s *Subscriber) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}
