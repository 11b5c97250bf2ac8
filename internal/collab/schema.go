package collab

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/invopop/jsonschema"
)

var schemaTypes = map[string]any{
	"session":             &config.SessionConfig{},
	"actor-request":       &stage.ActorRequest{},
	"actor-response":      &stage.ActorResponse{},
	"adaptation-request":  &stage.AdaptationRequest{},
	"adaptation-response": &stage.AdaptationResponse{},
	"command":             &stage.Command{},
	"ack":                 &stage.Ack{},
	"event":               &blackboard.Event{},
}

// SchemaKinds returns the names accepted by Schema.
func SchemaKinds() []string {
	kinds := make([]string, 0, len(schemaTypes))
	for k := range schemaTypes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Schema returns the indented JSON schema of a collaborator or control
// contract, so external programs can be written against it.
func Schema(kind string) ([]byte, error) {
	v, ok := schemaTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown schema '%s' (known: %v)", kind, SchemaKinds())
	}

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	return json.MarshalIndent(schema, "", "  ")
}
