package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/troupe/pkg/blackboard"
	"github.com/jinzhu/copier"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Adaptation failure reasons.
const (
	ReasonNoDirector      = "no_director"
	ReasonDirectorError   = "director_error"
	ReasonDirectorTimeout = "director_timeout"
	ReasonInvalidRevision = "invalid_revision"
	ReasonInvalidFact     = "invalid_fact"
)

// AdaptationInput is everything the coordinator needs to revise one draft.
type AdaptationInput struct {
	SessionID  string
	Summary    string
	FactsDelta []blackboard.PublicFact
	Draft      blackboard.Scene
	Roster     []string
}

// AdaptationOutcome is the result of one adaptation step. When Applied is
// false Scene is the untouched draft and Failure says why.
type AdaptationOutcome struct {
	Applied bool
	Scene   blackboard.Scene
	Facts   []FactUpdate
	Failure *AdaptationFailure
}

// AdaptationCoordinator asks the director to revise the next scene and
// validates the answer. It never fails the performance: any problem keeps the
// draft.
type AdaptationCoordinator struct {
	director DirectorAdapter
	timeout  time.Duration
}

// NewAdaptationCoordinator creates a coordinator. director may be nil.
func NewAdaptationCoordinator(director DirectorAdapter, timeout time.Duration) *AdaptationCoordinator {
	return &AdaptationCoordinator{director: director, timeout: timeout}
}

// Enabled reports whether a director is configured.
func (c *AdaptationCoordinator) Enabled() bool {
	return c != nil && c.director != nil
}

// Adapt runs one bounded director call against in.Draft.
func (c *AdaptationCoordinator) Adapt(ctx context.Context, in AdaptationInput) AdaptationOutcome {
	keep := func(reason string, err error) AdaptationOutcome {
		return AdaptationOutcome{
			Scene:   in.Draft.Clone(),
			Failure: &AdaptationFailure{SceneID: in.Draft.ID, Reason: reason, Err: err},
		}
	}
	if !c.Enabled() {
		return keep(ReasonNoDirector, nil)
	}

	ctx, span := tracer().Start(ctx, "adapt scene", trace.WithAttributes(
		attribute.String("session.id", in.SessionID),
		attribute.String("scene.id", in.Draft.ID),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		resp AdaptationResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := c.director.Adapt(callCtx, AdaptationRequest{
			SessionID:      in.SessionID,
			SceneSummary:   in.Summary,
			FactsDelta:     in.FactsDelta,
			NextSceneDraft: in.Draft.Clone(),
			Roster:         append([]string(nil), in.Roster...),
		})
		done <- outcome{resp: resp, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	}

	if out.err != nil {
		reason := ReasonDirectorError
		if callCtx.Err() == context.DeadlineExceeded {
			reason = ReasonDirectorTimeout
		}
		span.SetStatus(codes.Error, reason)
		return keep(reason, out.err)
	}

	for _, f := range out.resp.Facts {
		if strings.TrimSpace(f.Value) == "" {
			span.SetStatus(codes.Error, ReasonInvalidFact)
			return keep(ReasonInvalidFact, fmt.Errorf("director fact '%s' has no value", f.Key))
		}
	}

	scene := in.Draft.Clone()
	if out.resp.RevisedScene != nil {
		revised, err := ValidateRevision(in.Draft, *out.resp.RevisedScene, in.Roster)
		if err != nil {
			span.SetStatus(codes.Error, ReasonInvalidRevision)
			return keep(ReasonInvalidRevision, err)
		}
		scene = revised
	}

	span.SetAttributes(attribute.Bool("adaptation.revised", out.resp.RevisedScene != nil))
	return AdaptationOutcome{
		Applied: true,
		Scene:   scene,
		Facts:   append([]FactUpdate(nil), out.resp.Facts...),
	}
}

// ValidateRevision checks a director revision of draft and fills the fields the
// director left empty from the draft. The revision must keep the draft's id,
// carry a description and a cast, and only cast members of roster.
func ValidateRevision(draft, revised blackboard.Scene, roster []string) (blackboard.Scene, error) {
	if revised.ID != "" && revised.ID != draft.ID {
		return blackboard.Scene{}, fmt.Errorf("revision id '%s' does not match draft '%s'", revised.ID, draft.ID)
	}
	if strings.TrimSpace(revised.Description) == "" {
		return blackboard.Scene{}, fmt.Errorf("revision of '%s' has no description", draft.ID)
	}
	if len(revised.Actors) == 0 {
		return blackboard.Scene{}, fmt.Errorf("revision of '%s' has no actors", draft.ID)
	}

	members := make(map[string]bool, len(roster))
	for _, id := range roster {
		members[id] = true
	}
	for _, actor := range revised.Actors {
		if !members[actor] {
			return blackboard.Scene{}, fmt.Errorf("revision of '%s' casts '%s' who is not in the roster", draft.ID, actor)
		}
	}

	merged := draft.Clone()
	if err := copier.CopyWithOption(&merged, &revised, copier.Option{IgnoreEmpty: true, DeepCopy: true}); err != nil {
		return blackboard.Scene{}, fmt.Errorf("failed to merge revision of '%s': %w", draft.ID, err)
	}
	merged.ID = draft.ID
	merged.Actors = append([]string(nil), revised.Actors...)

	if _, ok := LookupStageRule(merged.StageRule); !ok {
		return blackboard.Scene{}, fmt.Errorf("revision of '%s' uses unknown stage rule '%s'", draft.ID, merged.StageRule)
	}
	if err := merged.Validate(); err != nil {
		return blackboard.Scene{}, err
	}
	return merged, nil
}

// SummarizeScene renders a deterministic plain-text summary of a finished scene.
func SummarizeScene(scene blackboard.Scene, slice blackboard.SceneSlice, reason string) string {
	var b strings.Builder
	title := scene.Title
	if title == "" {
		title = scene.ID
	}
	fmt.Fprintf(&b, "Scene '%s' ended after %d turns (%s).", title, len(slice.Turns), reason)

	var speakers []string
	seen := make(map[string]bool)
	for _, t := range slice.Turns {
		if t.Placeholder || seen[t.ActorID] {
			continue
		}
		seen[t.ActorID] = true
		speakers = append(speakers, t.ActorID)
	}
	if len(speakers) > 0 {
		fmt.Fprintf(&b, " Speakers: %s.", strings.Join(speakers, ", "))
	}

	for i := len(slice.Turns) - 1; i >= 0; i-- {
		t := slice.Turns[i]
		if t.Placeholder || strings.TrimSpace(t.Text) == "" {
			continue
		}
		fmt.Fprintf(&b, " Last line: %s: %s", t.ActorID, t.Text)
		break
	}

	if len(slice.Facts) > 0 {
		facts := make([]string, 0, len(slice.Facts))
		for _, f := range slice.Facts {
			if f.Key != "" {
				facts = append(facts, f.Key+"="+f.Value)
			} else {
				facts = append(facts, f.Value)
			}
		}
		fmt.Fprintf(&b, " New facts: %s.", strings.Join(facts, "; "))
	}
	return b.String()
}
