package stage

import (
	"encoding/json"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/dyluth/troupe/internal/stage"

// tracer resolves against the global provider on every call so a provider
// installed after package init still receives stage spans.
func tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// logEvent logs a structured event in JSON format.
func logEvent(sessionID, eventType string, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "stage"
	data["event_type"] = eventType
	data["session"] = sessionID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Stage] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
