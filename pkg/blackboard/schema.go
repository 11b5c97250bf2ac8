package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced so that several stage
// servers (or test runs) can share a single Redis server.
//
// Key pattern: troupe:{namespace}:{entity}:{id}
// Channel pattern: troupe:{namespace}:{entity}_events:{id}

// SessionKey returns the Redis key for a session's summary hash.
// Pattern: troupe:{namespace}:session:{session_id}
func SessionKey(namespace, sessionID string) string {
	return fmt.Sprintf("troupe:%s:session:%s", namespace, sessionID)
}

// SessionEventsKey returns the Redis key for a session's ordered event list.
// Pattern: troupe:{namespace}:session:{session_id}:events
func SessionEventsKey(namespace, sessionID string) string {
	return fmt.Sprintf("troupe:%s:session:%s:events", namespace, sessionID)
}

// SessionsKey returns the Redis key for the ZSET of known sessions scored by
// creation time.
// Pattern: troupe:{namespace}:sessions
func SessionsKey(namespace string) string {
	return fmt.Sprintf("troupe:%s:sessions", namespace)
}

// SessionEventsChannel returns the Pub/Sub channel carrying a session's live events.
// Pattern: troupe:{namespace}:session_events:{session_id}
func SessionEventsChannel(namespace, sessionID string) string {
	return fmt.Sprintf("troupe:%s:session_events:%s", namespace, sessionID)
}
