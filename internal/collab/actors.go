// Package collab provides the built-in collaborators of a performance: actor
// generators, the director, and the world-knowledge source.
//
// Two variants exist for each role. Scripted collaborators run in-process and
// are used for rehearsals and tests. Command collaborators run an external
// program per call, with the request as JSON on stdin and the response on stdout.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/dyluth/troupe/internal/parse"
	"github.com/dyluth/troupe/internal/stage"
)

// Scripted replays a fixed list of lines, one per call. Once the lines run out
// the actor passes.
type Scripted struct {
	mu    sync.Mutex
	lines []string
	next  int
}

// NewScripted creates a scripted actor.
func NewScripted(lines []string) *Scripted {
	return &Scripted{lines: append([]string(nil), lines...)}
}

// Generate returns the next scripted line.
func (s *Scripted) Generate(ctx context.Context, _ stage.ActorRequest) (stage.ActorResponse, error) {
	if err := ctx.Err(); err != nil {
		return stage.ActorResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.lines) {
		return stage.ActorResponse{Text: parse.PassToken}, nil
	}
	line := s.lines[s.next]
	s.next++
	return stage.ActorResponse{Text: line}, nil
}

// CommandActor runs an external program for every turn.
type CommandActor struct {
	Command []string
	Dir     string
}

// NewCommandActor creates a command actor.
func NewCommandActor(command []string) *CommandActor {
	return &CommandActor{Command: append([]string(nil), command...)}
}

// Generate sends req to the program. Stdout is either an ActorResponse JSON
// object or the raw utterance.
func (c *CommandActor) Generate(ctx context.Context, req stage.ActorRequest) (stage.ActorResponse, error) {
	stdout, err := runCommand(ctx, c.Command, c.Dir, req)
	if err != nil {
		return stage.ActorResponse{}, fmt.Errorf("actor command for '%s' failed: %w", req.ActorID, err)
	}

	var resp stage.ActorResponse
	trimmed := strings.TrimSpace(stdout)
	if err := json.Unmarshal([]byte(trimmed), &resp); err == nil && (resp.Text != "" || len(resp.Markers) > 0) {
		return resp, nil
	}
	// Anything else is handed to the gateway's tolerant parser untouched
	return stage.ActorResponse{Text: trimmed}, nil
}

// Roster routes each request to the generator registered for its actor.
type Roster struct {
	actors map[string]stage.ActorGenerator
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{actors: make(map[string]stage.ActorGenerator)}
}

// Add registers gen for actorID.
func (r *Roster) Add(actorID string, gen stage.ActorGenerator) {
	r.actors[actorID] = gen
}

// Generate dispatches req by actor id.
func (r *Roster) Generate(ctx context.Context, req stage.ActorRequest) (stage.ActorResponse, error) {
	gen, ok := r.actors[req.ActorID]
	if !ok {
		return stage.ActorResponse{}, fmt.Errorf("no generator registered for actor '%s'", req.ActorID)
	}
	return gen.Generate(ctx, req)
}
