package blackboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client persists session event logs in Redis and republishes every appended
// event on the session's live channel. All keys and channels are namespaced.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// NewClient creates a new session log client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: deployment identifier used in every key (must not be empty)
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	return &Client{
		rdb:       redis.NewClient(redisOpts),
		namespace: namespace,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(redisURL, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewClient(opts, namespace)
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Append adds ev to the session's event list, folds it into the session summary
// and publishes it on the session's live channel.
//
// Events are expected to arrive in seq order from a single writer per session.
func (c *Client) Append(ctx context.Context, sessionID string, ev Event) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := EventToJSON(ev)
	if err != nil {
		return err
	}

	meta, err := c.GetSessionMeta(ctx, sessionID)
	if err != nil {
		if !IsNotFound(err) {
			return err
		}
		meta = &SessionMeta{ID: sessionID}
	}
	if err := meta.ApplyEvent(ev); err != nil {
		return err
	}
	hash, err := SessionMetaToHash(meta)
	if err != nil {
		return fmt.Errorf("failed to serialize session meta: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, SessionEventsKey(c.namespace, sessionID), payload)
	pipe.HSet(ctx, SessionKey(c.namespace, sessionID), hash)
	pipe.ZAddNX(ctx, SessionsKey(c.namespace), redis.Z{Score: float64(meta.CreatedAtMs), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append event to Redis: %w", err)
	}

	if err := c.rdb.Publish(ctx, SessionEventsChannel(c.namespace, sessionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	return nil
}

// GetSessionMeta retrieves a session summary by id.
// Returns (nil, redis.Nil) if the session doesn't exist.
func (c *Client) GetSessionMeta(ctx context.Context, sessionID string) (*SessionMeta, error) {
	hashData, err := c.rdb.HGetAll(ctx, SessionKey(c.namespace, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	meta, err := HashToSessionMeta(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return meta, nil
}

// LoadSession returns the session summary and its full ordered event log.
// Returns (nil, redis.Nil) if the session doesn't exist.
func (c *Client) LoadSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	meta, err := c.GetSessionMeta(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := c.rdb.LRange(ctx, SessionEventsKey(c.namespace, sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session events: %w", err)
	}

	record := &SessionRecord{Meta: *meta, Events: make([]Event, 0, len(raw))}
	for i, item := range raw {
		ev, err := JSONToEvent(item)
		if err != nil {
			return nil, fmt.Errorf("event %d of session %s: %w", i, sessionID, err)
		}
		record.Events = append(record.Events, ev)
	}
	return record, nil
}

// ListSessions returns every known session summary, oldest first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	ids, err := c.rdb.ZRange(ctx, SessionsKey(c.namespace), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]SessionMeta, 0, len(ids))
	for _, id := range ids {
		meta, err := c.GetSessionMeta(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *meta)
	}
	return sessions, nil
}

// Subscription represents an active Pub/Sub subscription to a session's events.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel context.CancelFunc
}

// Events returns the channel of session events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors returns the channel of subscription errors (malformed messages).
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and releases its Redis connection.
func (s *Subscription) Close() error {
	s.cancel()
	return nil
}

// SubscribeSessionEvents subscribes to the live event channel of one session.
// Caller must call subscription.Close() when done.
//
// Events are delivered on a buffered channel (size 64) to prevent blocking.
func (c *Client) SubscribeSessionEvents(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, SessionEventsChannel(c.namespace, sessionID))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	eventsChan := make(chan Event, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				ev, err := JSONToEvent(msg.Payload)
				if err != nil {
					select {
					case errorsChan <- err:
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}
