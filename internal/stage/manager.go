package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/dyluth/troupe/internal/broadcast"
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/pkg/blackboard"
)

// Session end reasons that are not scene end reasons.
const (
	FinishScriptComplete = "script_complete"
	FinishStopped        = "stopped"
)

// Deps are the collaborators a Manager drives. Actors is required.
type Deps struct {
	Actors    ActorGenerator
	Director  DirectorAdapter
	Knowledge KnowledgeSource
	Recorder  broadcast.Recorder
}

// Status is a point-in-time summary of a session.
type Status struct {
	SessionID      string    `json:"session_id"`
	Title          string    `json:"title,omitempty"`
	State          Lifecycle `json:"state"`
	Paused         bool      `json:"paused"`
	CurrentScene   string    `json:"current_scene,omitempty"`
	SceneTurns     int       `json:"scene_turns"`
	Turns          int64     `json:"turns"`
	SilentTurns    int       `json:"silent_turns"`
	QueueRemaining int       `json:"queue_remaining"`
	LastSeq        uint64    `json:"last_seq"`
	Observers      int       `json:"observers"`
}

type activeScene struct {
	scene     blackboard.Scene
	knowledge string
}

type resolvedCommand struct {
	pending pendingCommand
	ack     Ack
}

// Manager is the StageManager: it owns the lifecycle of one session and runs
// its scene loop. Advance and Run must be called from a single goroutine;
// every other method is safe for concurrent use.
type Manager struct {
	deps Deps

	mu      sync.RWMutex
	state   Lifecycle
	paused  bool
	silent  int
	session *Session

	caster      *broadcast.Broadcaster
	gateway     *ActorGateway
	scheduler   *TurnScheduler
	coordinator *AdaptationCoordinator
	god         *GodModeController

	// owned by the loop goroutine
	active *activeScene
	forced string
	acks   []resolvedCommand
}

// NewManager creates an idle manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:      deps,
		state:     StateIdle,
		scheduler: NewTurnScheduler(),
	}
}

// Initialize validates cfg and prepares the session. On success the manager is
// SceneActive and ready to Advance; on a ConfigError it returns to Idle.
func (m *Manager) Initialize(cfg *config.SessionConfig) (string, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	m.state = StateInitializing
	m.mu.Unlock()

	if err := m.prepare(cfg); err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.session = nil
		m.caster = nil
		m.mu.Unlock()
		logEvent("", "session_rejected", map[string]interface{}{"error": err.Error()})
		return "", err
	}

	sessionID := m.session.ID
	if _, err := m.caster.Emit(blackboard.EventSessionStarted, func() (any, error) {
		return m.view(), nil
	}); err != nil {
		return "", err
	}
	if err := m.transition(StateSceneActive, "initialized"); err != nil {
		return "", err
	}

	logEvent(sessionID, "session_initialized", map[string]interface{}{
		"title":      m.session.Title,
		"stage_rule": m.session.StageRule,
		"roster":     m.session.Roster,
		"scenes":     m.session.Queue.Len(),
	})
	return sessionID, nil
}

func (m *Manager) prepare(cfg *config.SessionConfig) error {
	if cfg == nil {
		return config.NewConfigError("", "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, ok := LookupStageRule(cfg.StageRule); !ok {
		return config.NewConfigError("stage_rule", "unknown stage rule '%s' (known: %s)", cfg.StageRule, strings.Join(StageRuleTags(), ", "))
	}
	for i, scene := range cfg.Script {
		if _, ok := LookupStageRule(scene.StageRule); !ok {
			return config.NewConfigError(fmt.Sprintf("script[%d].stage_rule", i), "unknown stage rule '%s'", scene.StageRule)
		}
	}
	if m.deps.Actors == nil {
		return config.NewConfigError("actors", "no actor generator configured")
	}

	session := NewSession(cfg)
	settings := session.Settings

	m.gateway = NewActorGateway(m.deps.Actors, settings.TurnTimeout.Std(), settings.PlaceholderText)
	m.coordinator = NewAdaptationCoordinator(m.deps.Director, settings.AdaptationTimeout.Std())
	m.god = NewGodModeController(settings.CommandBuffer)
	caster := broadcast.New(broadcast.Options{
		SessionID: session.ID,
		Snapshot:  func() any { return m.view() },
		Buffer:    settings.ObserverBuffer,
		Recorder:  m.deps.Recorder,
		OnDrop: func(failure *broadcast.DeliveryFailure) {
			logEvent(session.ID, "observer_dropped", map[string]interface{}{
				"subscriber": failure.SubscriberID,
				"seq":        failure.Seq,
			})
		},
	})

	m.mu.Lock()
	m.session = session
	m.caster = caster
	m.mu.Unlock()
	return nil
}

// Run advances the session until it ends. Cancelling ctx ends the session
// with reason "stopped" and returns nil.
func (m *Manager) Run(ctx context.Context) error {
	for {
		done, err := m.Advance(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Advance performs one loop step: start the next scene or run one turn tick,
// then apply queued commands. It blocks while the session is paused. done is
// true once the session is Ended or Failed; err is only set for a fatal error.
func (m *Manager) Advance(ctx context.Context) (done bool, err error) {
	state, _ := m.lifecycle()
	switch {
	case state == StateIdle:
		return false, ErrNotInitialized
	case state.Terminal():
		return true, nil
	}
	defer m.flushAcks()

	if ctx.Err() != nil {
		return m.stop()
	}

	if m.active == nil {
		if err := m.boundary(ctx); err != nil {
			return m.stop()
		}
		if m.forced == blackboard.EndReasonForced {
			return m.finish(StateEnded, blackboard.EndReasonForced)
		}
		m.forced = ""
		return m.startNextScene(ctx)
	}
	return m.tick(ctx)
}

func (m *Manager) startNextScene(ctx context.Context) (bool, error) {
	scene, ok := m.session.Queue.Next()
	if !ok {
		return m.finish(StateEnded, FinishScriptComplete)
	}

	knowledge := m.lookupKnowledge(ctx, scene)
	queue := m.session.Queue
	board := m.session.Board
	// The queue cursor and the board move together so a snapshot never sees
	// a scene that is neither planned nor current.
	if _, err := m.caster.Emit(blackboard.EventSceneStarted, func() (any, error) {
		started, ok := queue.Start()
		if !ok || started.ID != scene.ID {
			return nil, fmt.Errorf("script queue moved before scene '%s' started", scene.ID)
		}
		if err := board.BeginScene(started.ID); err != nil {
			return nil, err
		}
		return started, nil
	}); err != nil {
		return m.fail(err)
	}
	m.active = &activeScene{scene: scene, knowledge: knowledge}

	logEvent(m.session.ID, "scene_started", map[string]interface{}{
		"scene_id":   scene.ID,
		"actors":     scene.Actors,
		"stage_rule": scene.StageRule,
		"max_turns":  scene.MaxTurns,
	})
	return false, nil
}

func (m *Manager) lookupKnowledge(ctx context.Context, scene blackboard.Scene) string {
	if m.deps.Knowledge == nil {
		return ""
	}
	snippet, err := m.deps.Knowledge.Lookup(ctx, m.session.World.Reference, scene)
	if err != nil {
		log.Printf("[Stage] Knowledge lookup for scene '%s' failed: %v", scene.ID, err)
		return ""
	}
	return snippet
}

// tick runs one scheduled batch, applies commands at the boundary and checks
// termination: end marker, then max turns, then a forced command, then a cold
// field (every scene actor in a row passed or fell silent).
func (m *Manager) tick(ctx context.Context) (bool, error) {
	a := m.active
	board := m.session.Board

	history := board.Snapshot(a.scene.ID).Turns
	batch, err := m.scheduler.Next(a.scene, history)
	if err != nil {
		return m.fail(err)
	}
	if remaining := a.scene.MaxTurns - len(history); len(batch) > remaining {
		batch = batch[:remaining]
	}

	marker, err := m.perform(ctx, a, batch)
	if err != nil {
		return m.fail(err)
	}
	if ctx.Err() != nil {
		return m.stop()
	}

	if err := m.boundary(ctx); err != nil {
		return m.stop()
	}

	history = board.Snapshot(a.scene.ID).Turns
	var reason string
	switch {
	case marker:
		reason = blackboard.EndReasonMarker
	case len(history) >= a.scene.MaxTurns:
		reason = blackboard.EndReasonMaxTurns
	case m.forced != "":
		reason = m.forced
	case len(a.scene.Actors) > 0 && quietRun(history) >= len(a.scene.Actors):
		reason = blackboard.EndReasonColdField
	default:
		return false, nil
	}
	return m.endScene(ctx, reason)
}

// quietRun counts the trailing turns in which nobody said anything.
func quietRun(turns []blackboard.Turn) int {
	n := 0
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if !t.Placeholder && !t.HasMarker(blackboard.MarkerPass) {
			break
		}
		n++
	}
	return n
}

// perform runs the batch concurrently and appends results in completion order.
// A scene-end marker, or a SkipScene/ForceEnd command, cancels the calls still
// in flight; their results are discarded.
func (m *Manager) perform(ctx context.Context, a *activeScene, batch []string) (bool, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.god.arm(cancel)
	defer m.god.disarm()

	type result struct {
		turn TurnResult
		err  error
	}
	results := make(chan result, len(batch))
	for _, actorID := range batch {
		req := m.buildRequest(a, actorID)
		go func() {
			turn, err := m.gateway.Perform(batchCtx, req, a.scene.EndMarker)
			results <- result{turn: turn, err: err}
		}()
	}

	var marker bool
	var fatal error
	for range batch {
		r := <-results
		if fatal != nil || r.err != nil || batchCtx.Err() != nil {
			continue
		}
		turn, err := m.appendTurn(a, r.turn)
		if err != nil {
			fatal = err
			cancel()
			continue
		}
		if turn.HasMarker(blackboard.MarkerSceneEnd) {
			marker = true
			cancel()
		}
	}
	return marker, fatal
}

func (m *Manager) buildRequest(a *activeScene, actorID string) ActorRequest {
	s := m.session
	actor := s.Actors[actorID]
	name := s.DisplayName(actorID)
	rule, _ := LookupStageRule(a.scene.StageRule)

	group := a.scene.Title
	if group == "" {
		group = s.Title
	}
	members := make([]string, 0, len(a.scene.Actors))
	for _, id := range a.scene.Actors {
		members = append(members, s.DisplayName(id))
	}

	bank := s.Memory[actorID]
	return ActorRequest{
		SessionID: s.ID,
		ActorID:   actorID,
		Context: ContextBundle{
			ActorName:   name,
			Persona:     actor.Persona,
			World:       a.knowledge,
			StageRule:   rule.Instructions(name, group, members),
			Scene:       a.scene.Clone(),
			Facts:       s.Board.Facts(),
			Secrets:     bank.Secrets(),
			Memory:      bank.Recall(),
			History:     s.Board.RenderContextFor(actorID, s.Settings.HistoryWindow),
			Instruction: turnInstruction(name, a.scene),
		},
	}
}

func turnInstruction(name string, scene blackboard.Scene) string {
	var b strings.Builder
	fmt.Fprintf(&b, "It is %s's turn to speak.", name)
	if scene.Goal != "" {
		fmt.Fprintf(&b, " Scene goal: %s.", scene.Goal)
	}
	fmt.Fprintf(&b, " If the goal has been reached, end your message with %s.", scene.EndMarker)
	fmt.Fprintf(&b, " Reply %s if %s has nothing to add.", "[PASS]", name)
	return b.String()
}

func (m *Manager) appendTurn(a *activeScene, r TurnResult) (blackboard.Turn, error) {
	s := m.session
	var stored blackboard.Turn
	if _, err := m.caster.Emit(blackboard.EventTurnAppended, func() (any, error) {
		t, err := s.Board.AppendTurn(blackboard.Turn{
			SceneID:     a.scene.ID,
			ActorID:     r.ActorID,
			Text:        r.Text,
			Markers:     r.Markers,
			Placeholder: r.Placeholder,
		})
		if err != nil {
			return nil, err
		}
		stored = t
		return t, nil
	}); err != nil {
		return blackboard.Turn{}, err
	}

	if r.Placeholder {
		m.mu.Lock()
		m.silent++
		m.mu.Unlock()

		reason := "generation failed"
		if r.Failure != nil {
			reason = r.Failure.Error()
		}
		if _, err := m.caster.Publish(blackboard.EventActorSilent, blackboard.ActorSilentPayload{
			ActorID: r.ActorID,
			SceneID: a.scene.ID,
			TurnSeq: stored.Seq,
			Reason:  reason,
		}); err != nil {
			return stored, err
		}
		logEvent(s.ID, "actor_silent", map[string]interface{}{
			"actor_id": r.ActorID,
			"scene_id": a.scene.ID,
			"turn_seq": stored.Seq,
			"reason":   reason,
		})
		return stored, nil
	}

	if stored.Text != "" {
		line := fmt.Sprintf("%s: %s", s.DisplayName(stored.ActorID), stored.Text)
		for _, id := range a.scene.Actors {
			s.Memory[id].Remember(line)
		}
	}
	return stored, nil
}

// boundary applies queued commands and waits while paused. It only returns an
// error when ctx is done.
func (m *Manager) boundary(ctx context.Context) error {
	for _, p := range m.god.Drain() {
		m.apply(p)
	}
	for {
		if _, paused := m.lifecycle(); !paused {
			return nil
		}
		// Operators must see the pause take effect before the loop blocks
		m.flushAcks()
		p, err := m.god.Wait(ctx)
		if err != nil {
			return err
		}
		m.apply(p)
	}
}

func (m *Manager) apply(p pendingCommand) {
	reject := func(format string, a ...any) {
		m.acks = append(m.acks, resolvedCommand{pending: p, ack: Ack{Error: fmt.Sprintf(format, a...)}})
		logEvent(m.session.ID, "command_rejected", map[string]interface{}{
			"command_id": p.cmd.ID,
			"type":       p.cmd.Type,
		})
	}

	state, paused := m.lifecycle()
	switch p.cmd.Type {
	case CommandPause:
		if paused {
			reject("session is already paused")
			return
		}
		if state != StateSceneActive {
			reject("cannot pause in state %s", state)
			return
		}
		m.setPaused(true, "operator")

	case CommandResume:
		if !paused {
			reject("session is not paused")
			return
		}
		m.setPaused(false, "operator")

	case CommandInjectFact:
		board := m.session.Board
		if _, err := m.caster.Emit(blackboard.EventFactSet, func() (any, error) {
			return board.SetFact(p.cmd.Key, p.cmd.Value, blackboard.FactSourceOperator)
		}); err != nil {
			reject("%v", err)
			return
		}

	case CommandSkipScene:
		if m.active == nil {
			reject("no scene in progress")
			return
		}
		if m.forced == "" {
			m.forced = blackboard.EndReasonSkipped
		}
		if paused {
			m.setPaused(false, string(CommandSkipScene))
		}

	case CommandForceEnd:
		m.forced = blackboard.EndReasonForced
		if paused {
			m.setPaused(false, string(CommandForceEnd))
		}

	default:
		reject("%v: '%s'", ErrUnknownCommand, p.cmd.Type)
		return
	}

	m.acks = append(m.acks, resolvedCommand{pending: p, ack: Ack{Accepted: true}})
	logEvent(m.session.ID, "command_applied", map[string]interface{}{
		"command_id": p.cmd.ID,
		"type":       p.cmd.Type,
	})
}

func (m *Manager) setPaused(paused bool, reason string) {
	eventType := blackboard.EventResumed
	if paused {
		eventType = blackboard.EventPaused
	}
	if _, err := m.caster.Emit(eventType, func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.paused = paused
		return blackboard.StatePayload{Lifecycle: string(m.state), Paused: paused, Reason: reason}, nil
	}); err != nil {
		log.Printf("[Stage] Failed to emit %s: %v", eventType, err)
	}
	logEvent(m.session.ID, strings.ToLower(string(eventType)), map[string]interface{}{"reason": reason})
}

// flushAcks resolves the commands applied since the last call with the
// session state they produced.
func (m *Manager) flushAcks() {
	if len(m.acks) == 0 {
		return
	}
	state, paused := m.lifecycle()
	for _, rc := range m.acks {
		ack := rc.ack
		ack.State = state
		ack.Paused = paused
		rc.pending.resolve(ack)
	}
	m.acks = nil
}

func (m *Manager) endScene(ctx context.Context, reason string) (bool, error) {
	a := m.active
	s := m.session

	var turns int
	if _, err := m.caster.Emit(blackboard.EventSceneEnded, func() (any, error) {
		if err := s.Board.EndScene(a.scene.ID); err != nil {
			return nil, err
		}
		turns = len(s.Board.Snapshot(a.scene.ID).Turns)
		return blackboard.SceneEndedPayload{SceneID: a.scene.ID, Reason: reason, Turns: turns}, nil
	}); err != nil {
		return m.fail(err)
	}
	m.active = nil
	forced := m.forced
	m.forced = ""

	logEvent(s.ID, "scene_ended", map[string]interface{}{
		"scene_id": a.scene.ID,
		"reason":   reason,
		"turns":    turns,
	})

	if err := m.transition(StateSceneSummarizing, reason); err != nil {
		return m.fail(err)
	}
	slice := s.Board.Snapshot(a.scene.ID)
	summary := SummarizeScene(a.scene, slice, reason)
	for _, id := range a.scene.Actors {
		s.Memory[id].Consolidate(summary)
	}
	if _, err := m.caster.Emit(blackboard.EventFactSet, func() (any, error) {
		return s.Board.SetFact("scene_summary:"+a.scene.ID, summary, blackboard.FactSourceSystem)
	}); err != nil {
		return m.fail(err)
	}

	if forced == blackboard.EndReasonForced {
		return m.finish(StateEnded, blackboard.EndReasonForced)
	}
	draft, ok := s.Queue.Next()
	if !ok {
		return m.finish(StateEnded, FinishScriptComplete)
	}

	if m.coordinator.Enabled() {
		if err := m.transition(StateAdapting, draft.ID); err != nil {
			return m.fail(err)
		}
		outcome := m.coordinator.Adapt(ctx, AdaptationInput{
			SessionID:  s.ID,
			Summary:    summary,
			FactsDelta: slice.Facts,
			Draft:      draft,
			Roster:     s.Roster,
		})
		if ctx.Err() != nil {
			return m.stop()
		}
		if err := m.applyAdaptation(draft, outcome); err != nil {
			return m.fail(err)
		}
	} else {
		logEvent(s.ID, "adaptation_skipped", map[string]interface{}{"scene_id": draft.ID})
	}

	if err := m.transition(StateSceneActive, "next_scene"); err != nil {
		return m.fail(err)
	}
	return false, nil
}

func (m *Manager) applyAdaptation(draft blackboard.Scene, outcome AdaptationOutcome) error {
	s := m.session
	if !outcome.Applied {
		if _, err := m.caster.Publish(blackboard.EventAdaptationApplied, blackboard.AdaptationPayload{
			SceneID: draft.ID,
			Applied: false,
			Reason:  outcome.Failure.Error(),
		}); err != nil {
			return err
		}
		logEvent(s.ID, "degraded_adaptation", map[string]interface{}{
			"scene_id": draft.ID,
			"reason":   outcome.Failure.Reason,
			"error":    outcome.Failure.Error(),
		})
		return nil
	}

	revised := outcome.Scene
	if _, err := m.caster.Emit(blackboard.EventAdaptationApplied, func() (any, error) {
		if err := s.Queue.Replace(draft.ID, revised); err != nil {
			return nil, err
		}
		return blackboard.AdaptationPayload{SceneID: draft.ID, Applied: true, Scene: &revised}, nil
	}); err != nil {
		return err
	}

	for _, f := range outcome.Facts {
		if _, err := m.caster.Emit(blackboard.EventFactSet, func() (any, error) {
			return s.Board.SetFact(f.Key, f.Value, blackboard.FactSourceDirector)
		}); err != nil {
			return err
		}
	}

	logEvent(s.ID, "adaptation_applied", map[string]interface{}{
		"scene_id": draft.ID,
		"facts":    len(outcome.Facts),
	})
	return nil
}

// stop ends the session after its context was cancelled.
func (m *Manager) stop() (bool, error) {
	if a := m.active; a != nil {
		board := m.session.Board
		if _, err := m.caster.Emit(blackboard.EventSceneEnded, func() (any, error) {
			if err := board.EndScene(a.scene.ID); err != nil {
				return nil, err
			}
			return blackboard.SceneEndedPayload{
				SceneID: a.scene.ID,
				Reason:  blackboard.EndReasonForced,
				Turns:   len(board.Snapshot(a.scene.ID).Turns),
			}, nil
		}); err != nil {
			log.Printf("[Stage] Failed to close scene '%s' on stop: %v", a.scene.ID, err)
		}
		m.active = nil
	}
	return m.finish(StateEnded, FinishStopped)
}

// fail moves the session to Failed and finalizes it. It returns err so the
// caller can surface it.
func (m *Manager) fail(err error) (bool, error) {
	logEvent(m.session.ID, "session_failed", map[string]interface{}{
		"error":     err.Error(),
		"invariant": blackboard.IsInvariantViolation(err),
	})
	m.active = nil
	if _, ferr := m.finish(StateFailed, err.Error()); ferr != nil {
		log.Printf("[Stage] Failed to finalize session: %v", ferr)
	}
	return true, err
}

func (m *Manager) finish(state Lifecycle, reason string) (bool, error) {
	if err := m.transition(state, reason); err != nil {
		// Force the terminal state; the loop must never be left running
		m.mu.Lock()
		m.state = state
		m.mu.Unlock()
		log.Printf("[Stage] %v", err)
	}

	if _, err := m.caster.Emit(blackboard.EventSessionEnded, func() (any, error) {
		return m.view(), nil
	}); err != nil && !errors.Is(err, broadcast.ErrClosed) {
		log.Printf("[Stage] Failed to emit SessionEnded: %v", err)
	}

	m.flushAcks()
	m.god.close(state)
	m.caster.Close()

	status := m.Status()
	logEvent(m.session.ID, "session_ended", map[string]interface{}{
		"state":        state,
		"reason":       reason,
		"turns":        status.Turns,
		"silent_turns": status.SilentTurns,
	})
	return true, nil
}

func (m *Manager) transition(to Lifecycle, reason string) error {
	var from Lifecycle
	_, err := m.caster.Emit(blackboard.EventStateChanged, func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := checkTransition(m.state, to); err != nil {
			return nil, err
		}
		from = m.state
		m.state = to
		return blackboard.StatePayload{
			Lifecycle: string(to),
			Previous:  string(from),
			Paused:    m.paused,
			Reason:    reason,
		}, nil
	})
	if err != nil {
		return err
	}

	logEvent(m.session.ID, "state_changed", map[string]interface{}{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
	return nil
}

func (m *Manager) lifecycle() (Lifecycle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.paused
}

// view builds the full observable state. It is called with the broadcaster
// lock held when it backs a snapshot.
func (m *Manager) view() blackboard.SessionView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.session
	if s == nil {
		return blackboard.SessionView{Lifecycle: string(m.state), Roster: []string{}, Upcoming: []blackboard.Scene{}}
	}

	v := blackboard.SessionView{
		SessionID: s.ID,
		Title:     s.Title,
		StageRule: s.StageRule,
		Lifecycle: string(m.state),
		Paused:    m.paused,
		Roster:    append([]string(nil), s.Roster...),
		Upcoming:  s.Queue.Upcoming(),
		Board:     s.Board.State(),
	}
	if _, open := s.Board.CurrentScene(); open {
		if scene, ok := s.Queue.Current(); ok {
			v.CurrentScene = &scene
		}
	}
	return v
}

// ID returns the session id, or "" before Initialize.
func (m *Manager) ID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// State returns the lifecycle state and the paused flag.
func (m *Manager) State() (Lifecycle, bool) {
	return m.lifecycle()
}

// SubmitGodCommand queues cmd for the next turn boundary. The returned channel
// receives one Ack once the boundary has been resolved.
func (m *Manager) SubmitGodCommand(cmd Command) (<-chan Ack, error) {
	state, _ := m.lifecycle()
	switch {
	case state == StateIdle || state == StateInitializing:
		return nil, ErrNotInitialized
	case state.Terminal():
		return nil, ErrSessionClosed
	}
	if cmd.Type == CommandSkipScene && state != StateSceneActive {
		return nil, fmt.Errorf("%w: session is %s", ErrNoSceneInProgress, state)
	}
	ack, err := m.god.Submit(cmd)
	if err != nil {
		return nil, err
	}
	logEvent(m.ID(), "command_submitted", map[string]interface{}{"type": cmd.Type})
	return ack, nil
}

// Subscribe attaches a live observer. Its first event is a snapshot.
func (m *Manager) Subscribe() (*broadcast.Subscriber, error) {
	m.mu.RLock()
	caster := m.caster
	m.mu.RUnlock()
	if caster == nil {
		return nil, ErrNotInitialized
	}
	sub, err := caster.Subscribe()
	if errors.Is(err, broadcast.ErrClosed) {
		return nil, ErrSessionClosed
	}
	return sub, err
}

// Snapshot returns the full session state.
func (m *Manager) Snapshot() blackboard.SessionView {
	return m.view()
}

// Status returns a summary of the session.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{State: m.state, Paused: m.paused, SilentTurns: m.silent}
	s := m.session
	caster := m.caster
	m.mu.RUnlock()

	if s == nil {
		return st
	}
	st.SessionID = s.ID
	st.Title = s.Title
	st.Turns = s.Board.LastSeq()
	st.QueueRemaining = s.Queue.Remaining()
	if id, open := s.Board.CurrentScene(); open {
		st.CurrentScene = id
		st.SceneTurns = len(s.Board.Snapshot(id).Turns)
	}

	// The broadcaster lock is taken after the manager lock is released
	if caster != nil {
		st.LastSeq = caster.Seq()
		st.Observers = caster.Observers()
	}
	return st
}
