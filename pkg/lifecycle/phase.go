package lifecycle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/e2ekit/pkg/log"
)

// ErrInvalidTransition is returned when an event arrives out of order.
var ErrInvalidTransition = errors.New("lifecycle: invalid phase transition")

// Phase is the position of a test class in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseClassReady
	PhaseTestRunning
	PhaseBroken
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseClassReady:
		return "ClassReady"
	case PhaseTestRunning:
		return "TestRunning"
	case PhaseBroken:
		return "Broken"
	default:
		return "Unknown"
	}
}

// PhaseEmitter is called when the phase changes.
type PhaseEmitter interface {
	OnPhaseChange(previous, current Phase, reason string)
}

// Phases is the phase state machine of one test class.
type Phases struct {
	mu      sync.RWMutex
	phase   Phase
	logger  log.Logger
	emitter PhaseEmitter
}

// NewPhases creates a state machine in PhaseIdle. Both arguments may be nil.
func NewPhases(logger log.Logger, emitter PhaseEmitter) *Phases {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Phases{
		phase:   PhaseIdle,
		logger:  logger,
		emitter: emitter,
	}
}

// Phase returns the current phase.
func (p *Phases) Phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// Target returns the phase ev leads to.
func Target(ev Event) (Phase, error) {
	switch ev {
	case EventClassSetup:
		return PhaseClassReady, nil
	case EventTestSetup:
		return PhaseTestRunning, nil
	case EventTestTeardown:
		return PhaseClassReady, nil
	case EventClassTeardown:
		return PhaseIdle, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownEvent, ev)
	}
}

// Check reports whether ev is acceptable in the current phase without
// changing it.
func (p *Phases) Check(ev Event) error {
	next, err := Target(ev)
	if err != nil {
		return err
	}
	p.mu.RLock()
	cur := p.phase
	p.mu.RUnlock()
	return validate(cur, next, ev)
}

// Advance moves to the phase ev leads to.
func (p *Phases) Advance(ev Event) error {
	next, err := Target(ev)
	if err != nil {
		return err
	}
	return p.transition(next, ev, ev.String())
}

// Break moves to PhaseBroken from any phase.
func (p *Phases) Break(reason string) {
	_ = p.transition(PhaseBroken, 0, reason)
}

func (p *Phases) transition(next Phase, ev Event, reason string) error {
	p.mu.Lock()
	prev := p.phase
	if next != PhaseBroken {
		if err := validate(prev, next, ev); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.phase = next
	p.mu.Unlock()

	if p.emitter != nil {
		p.emitter.OnPhaseChange(prev, next, reason)
	}

	p.logger.Debug("phase transition",
		log.String("from", prev.String()),
		log.String("to", next.String()),
		log.String("reason", reason),
	)
	return nil
}

func validate(cur, next Phase, ev Event) error {
	ok := false
	switch cur {
	case PhaseIdle:
		ok = ev == EventClassSetup
	case PhaseClassReady:
		ok = ev == EventTestSetup || ev == EventClassTeardown
	case PhaseTestRunning:
		ok = ev == EventTestTeardown
	case PhaseBroken:
		ok = ev == EventClassTeardown
	}
	if !ok {
		return fmt.Errorf("%w: %s in phase %s (want %s)", ErrInvalidTransition, ev, cur, next)
	}
	return nil
}
