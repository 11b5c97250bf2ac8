package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// CommandType names an operator command.
type CommandType string

const (
	CommandPause      CommandType = "pause"
	CommandResume     CommandType = "resume"
	CommandInjectFact CommandType = "inject_fact"
	CommandSkipScene  CommandType = "skip_scene"
	CommandForceEnd   CommandType = "force_end"
)

// ParseCommandType maps user input onto a CommandType.
func ParseCommandType(s string) (CommandType, error) {
	switch CommandType(s) {
	case CommandPause, CommandResume, CommandInjectFact, CommandSkipScene, CommandForceEnd:
		return CommandType(s), nil
	}
	switch s {
	case "Pause":
		return CommandPause, nil
	case "Resume":
		return CommandResume, nil
	case "InjectFact", "inject":
		return CommandInjectFact, nil
	case "SkipScene", "skip":
		return CommandSkipScene, nil
	case "ForceEnd", "end", "stop":
		return CommandForceEnd, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrUnknownCommand, s)
}

// interrupts reports whether the command cancels in-flight generations.
func (t CommandType) interrupts() bool {
	return t == CommandSkipScene || t == CommandForceEnd
}

// Command is an operator instruction. Commands are applied at the next turn
// boundary in submission order.
type Command struct {
	ID    string      `json:"id"`
	Type  CommandType `json:"type"`
	Key   string      `json:"key,omitempty"`
	Value string      `json:"value,omitempty"`
}

// Ack reports how a command was resolved. State and Paused describe the
// session after the boundary that applied it.
type Ack struct {
	CommandID string      `json:"command_id"`
	Type      CommandType `json:"type"`
	Accepted  bool        `json:"accepted"`
	State     Lifecycle   `json:"state"`
	Paused    bool        `json:"paused"`
	Error     string      `json:"error,omitempty"`
}

type pendingCommand struct {
	cmd Command
	ack chan Ack
}

func (p pendingCommand) resolve(ack Ack) {
	ack.CommandID = p.cmd.ID
	ack.Type = p.cmd.Type
	p.ack <- ack
}

// GodModeController queues operator commands for the stage loop. Submission is
// safe from any goroutine; SkipScene and ForceEnd additionally cancel the
// generation batch that is currently in flight.
type GodModeController struct {
	queue chan pendingCommand

	mu         sync.Mutex
	cancel     context.CancelFunc
	cancelled  bool
	interrupts int // queued SkipScene/ForceEnd commands not yet taken by the loop
	closed     bool
}

// NewGodModeController creates a controller with a bounded command queue.
func NewGodModeController(buffer int) *GodModeController {
	if buffer < 1 {
		buffer = 1
	}
	return &GodModeController{queue: make(chan pendingCommand, buffer)}
}

// Submit validates and enqueues cmd. The returned channel receives exactly one Ack.
func (g *GodModeController) Submit(cmd Command) (<-chan Ack, error) {
	if _, err := ParseCommandType(string(cmd.Type)); err != nil {
		return nil, err
	}
	if cmd.Type == CommandInjectFact && cmd.Value == "" {
		return nil, fmt.Errorf("inject_fact requires a value")
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}

	p := pendingCommand{cmd: cmd, ack: make(chan Ack, 1)}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrSessionClosed
	}
	select {
	case g.queue <- p:
	default:
		return nil, ErrCommandQueueFull
	}

	if cmd.Type.interrupts() {
		g.interrupts++
		if g.cancel != nil {
			g.cancel()
			g.cancelled = true
		}
	}
	return p.ack, nil
}

// Drain returns every queued command without blocking.
func (g *GodModeController) Drain() []pendingCommand {
	var out []pendingCommand
	for {
		select {
		case p := <-g.queue:
			g.taken(p)
			out = append(out, p)
		default:
			return out
		}
	}
}

// Wait blocks until a command arrives or ctx is done.
func (g *GodModeController) Wait(ctx context.Context) (pendingCommand, error) {
	select {
	case p := <-g.queue:
		g.taken(p)
		return p, nil
	case <-ctx.Done():
		return pendingCommand{}, ctx.Err()
	}
}

func (g *GodModeController) taken(p pendingCommand) {
	if !p.cmd.Type.interrupts() {
		return
	}
	g.mu.Lock()
	g.interrupts--
	g.mu.Unlock()
}

// arm registers the cancel function of the batch about to run. A batch armed
// while an interrupting command is already queued is cancelled at once.
func (g *GodModeController) arm(cancel context.CancelFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel = cancel
	g.cancelled = false
	if g.interrupts > 0 {
		cancel()
		g.cancelled = true
	}
}

// disarm clears the batch cancel function and reports whether a command
// interrupted the batch.
func (g *GodModeController) disarm() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel = nil
	interrupted := g.cancelled
	g.cancelled = false
	return interrupted
}

// close rejects further submissions and resolves everything still queued.
func (g *GodModeController) close(state Lifecycle) {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	for _, p := range g.Drain() {
		p.resolve(Ack{State: state, Error: ErrSessionClosed.Error()})
	}
}
