// Package wizard drives a device through disclaimer, setup, plan review and
// the live session, persisting the session through a slot.
package wizard

import (
	"errors"
	"fmt"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/shopspring/decimal"
)

// Phase is the top-level screen.
type Phase string

const (
	PhaseDisclaimer Phase = "disclaimer"
	PhaseSetup      Phase = "setup"
	PhasePlan       Phase = "plan"
	PhaseSession    Phase = "session"
)

// Step is the sub-step within PhaseSetup.
type Step string

const (
	StepNone       Step = ""
	StepLocation   Step = "location"
	StepCasino     Step = "casino"
	StepBankroll   Step = "bankroll"
	StepGenerating Step = "generating"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current phase or step.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	// ErrStale is returned when a gateway response arrives after the state it was requested for has moved on.
	ErrStale = errors.New("response discarded: state changed while request was in flight")
)

// TransitionError names the rejected operation and the state it was tried in.
type TransitionError struct {
	Op    string
	Phase Phase
	Step  Step
}

func (e *TransitionError) Error() string {
	if e.Step != StepNone {
		return fmt.Sprintf("%s not allowed in %s/%s", e.Op, e.Phase, e.Step)
	}
	return fmt.Sprintf("%s not allowed in %s", e.Op, e.Phase)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Draft holds setup input collected before a session exists.
type Draft struct {
	Jurisdiction string           `json:"jurisdiction,omitempty"`
	Preferences  string           `json:"preferences,omitempty"`
	Casinos      []string         `json:"casinos"`
	Casino       string           `json:"casino,omitempty"`
	Bankroll     decimal.Decimal  `json:"bankroll"`
	Goal         decimal.Decimal  `json:"goal"`
	FreePlay     decimal.Decimal  `json:"free_play"`
	Strategy     gateway.Strategy `json:"strategy,omitempty"`
}

func (d Draft) clone() Draft {
	d.Casinos = append([]string{}, d.Casinos...)
	return d
}

// PlanInput are the figures submitted on the bankroll step.
type PlanInput struct {
	Bankroll decimal.Decimal
	Goal     decimal.Decimal
	FreePlay decimal.Decimal
	Strategy gateway.Strategy
}

// Snapshot is a copy of a machine's state for rendering.
type Snapshot struct {
	UserID  string          `json:"-"`
	Version uint64          `json:"version"`
	Phase   Phase           `json:"phase"`
	Step    Step            `json:"step,omitempty"`
	Error   string          `json:"error,omitempty"`
	Draft   Draft           `json:"draft"`
	Session *domain.Session `json:"session,omitempty"`
	Metrics *domain.Metrics `json:"metrics,omitempty"`
}
