package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/troupe/internal/parse"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/dyluth/troupe/pkg/blackboard"
)

// CommandDirector runs an external program after every scene to revise the
// next one.
type CommandDirector struct {
	Command []string
	Dir     string
}

// NewCommandDirector creates a command director.
func NewCommandDirector(command []string) *CommandDirector {
	return &CommandDirector{Command: append([]string(nil), command...)}
}

// Adapt sends req to the program and decodes an AdaptationResponse from its
// stdout. Empty output means "keep the draft".
func (d *CommandDirector) Adapt(ctx context.Context, req stage.AdaptationRequest) (stage.AdaptationResponse, error) {
	stdout, err := runCommand(ctx, d.Command, d.Dir, req)
	if err != nil {
		return stage.AdaptationResponse{}, fmt.Errorf("director command failed: %w", err)
	}
	if strings.TrimSpace(stdout) == "" {
		return stage.AdaptationResponse{}, nil
	}

	var resp stage.AdaptationResponse
	if err := parse.JSON(stdout, &resp); err != nil {
		return stage.AdaptationResponse{}, fmt.Errorf("director output: %w", err)
	}
	return resp, nil
}

// StaticWorld serves world knowledge from an in-memory bible keyed by
// reference, location and scene id.
type StaticWorld struct {
	entries map[string]string
}

// NewStaticWorld creates a knowledge source from bible.
func NewStaticWorld(bible map[string]string) *StaticWorld {
	entries := make(map[string]string, len(bible))
	for k, v := range bible {
		entries[k] = v
	}
	return &StaticWorld{entries: entries}
}

// Lookup returns every bible entry that applies to scene, most general first.
func (w *StaticWorld) Lookup(ctx context.Context, reference string, scene blackboard.Scene) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var parts []string
	seen := make(map[string]bool)
	for _, key := range []string{reference, scene.Location, scene.ID} {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if entry, ok := w.entries[key]; ok && strings.TrimSpace(entry) != "" {
			parts = append(parts, strings.TrimSpace(entry))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
