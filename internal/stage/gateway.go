package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dyluth/troupe/internal/parse"
	"github.com/dyluth/troupe/pkg/blackboard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxGenerationAttempts is the first call plus one repair retry.
const maxGenerationAttempts = 2

const repairInstruction = "Your previous reply could not be used. Answer again with only the words your character says aloud, " +
	"as plain text, without JSON, tags or commentary. Append %s only if the scene goal has been reached."

// TurnResult is the gateway's outcome for one speaker.
type TurnResult struct {
	ActorID     string
	Text        string
	Markers     []string
	Willingness int // -1 when the actor did not state one
	Placeholder bool
	Attempts    int
	Failure     error // last generation error when Placeholder is true
}

// ActorGateway turns a speaking slot into a bounded call against the actor
// collaborator. A failing actor produces a placeholder turn, never a stall.
type ActorGateway struct {
	generator   ActorGenerator
	timeout     time.Duration
	placeholder string
}

// NewActorGateway creates a gateway. placeholder may contain one %s for the actor name.
func NewActorGateway(generator ActorGenerator, timeout time.Duration, placeholder string) *ActorGateway {
	return &ActorGateway{
		generator:   generator,
		timeout:     timeout,
		placeholder: placeholder,
	}
}

// Perform runs up to two attempts for req. It only returns an error when ctx
// is cancelled, in which case the result must be discarded.
func (g *ActorGateway) Perform(ctx context.Context, req ActorRequest, endMarker string) (TurnResult, error) {
	ctx, span := tracer().Start(ctx, "generate turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("actor.id", req.ActorID),
		attribute.String("scene.id", req.Context.Scene.ID),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		if attempt > 1 {
			req.Repair = true
			req.Context.Instruction = fmt.Sprintf(repairInstruction, endMarker)
		}

		result, err := g.attempt(ctx, req, endMarker, attempt)
		if err == nil {
			span.SetAttributes(
				attribute.Int("generation.attempts", attempt),
				attribute.Int("actor.willingness", result.Willingness),
			)
			return result, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return TurnResult{}, ctx.Err()
		}

		lastErr = err
		span.RecordError(err)
		log.Printf("[Stage] Generation attempt %d for actor '%s' failed: %v", attempt, req.ActorID, err)
	}

	span.SetStatus(codes.Error, "placeholder substituted")
	name := req.Context.ActorName
	if name == "" {
		name = req.ActorID
	}
	return TurnResult{
		ActorID:     req.ActorID,
		Text:        g.placeholderText(name),
		Markers:     []string{blackboard.MarkerSilent},
		Willingness: -1,
		Placeholder: true,
		Attempts:    maxGenerationAttempts,
		Failure:     lastErr,
	}, nil
}

func (g *ActorGateway) attempt(ctx context.Context, req ActorRequest, endMarker string, attempt int) (TurnResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		resp ActorResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := g.generator.Generate(callCtx, req)
		done <- outcome{resp: resp, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		// The generator ignored cancellation; its late result is dropped
		out.err = callCtx.Err()
	}

	if out.err != nil {
		if ctx.Err() != nil {
			return TurnResult{}, ctx.Err()
		}
		kind := ErrGenerationFailed
		if errors.Is(out.err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			kind = ErrGenerationTimeout
		}
		return TurnResult{}, &GenerationError{ActorID: req.ActorID, Attempt: attempt, Err: fmt.Errorf("%w: %v", kind, out.err)}
	}

	utterance, err := parse.ParseUtterance(out.resp.Text, endMarker)
	if err != nil && len(out.resp.Markers) == 0 {
		return TurnResult{}, &GenerationError{ActorID: req.ActorID, Attempt: attempt, Err: fmt.Errorf("%w: %v", ErrGenerationMalformed, err)}
	}

	markers := normalizeMarkers(append(utterance.Markers, out.resp.Markers...))
	return TurnResult{
		ActorID:     req.ActorID,
		Text:        utterance.Content,
		Markers:     markers,
		Willingness: utterance.Willingness,
		Attempts:    attempt,
	}, nil
}

func (g *ActorGateway) placeholderText(name string) string {
	if strings.Contains(g.placeholder, "%s") {
		return fmt.Sprintf(g.placeholder, name)
	}
	return g.placeholder
}

// normalizeMarkers maps collaborator marker spellings onto blackboard markers
// and drops duplicates and unknown markers.
func normalizeMarkers(markers []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range markers {
		var canonical string
		switch strings.ToLower(strings.Trim(strings.TrimSpace(m), "[]")) {
		case "scene_end", "end", "finished":
			canonical = blackboard.MarkerSceneEnd
		case "pass":
			canonical = blackboard.MarkerPass
		default:
			continue
		}
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	return out
}
