package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stage is one directive unit of a betting plan.
type Stage struct {
	Stage            int             `json:"stage"`
	GameName         string          `json:"game_name"`
	BetStrategy      string          `json:"bet_strategy"`
	Reasoning        string          `json:"reasoning"`
	Objective        string          `json:"objective"`
	StopLoss         decimal.Decimal `json:"stop_loss"`
	WinGoal          decimal.Decimal `json:"win_goal"`
	TimeLimitMinutes int             `json:"time_limit_minutes"`
	ContingencyPlan  string          `json:"contingency_plan"`
	IsRefined        bool            `json:"is_refined,omitempty"`
}

// Spin is one logged wager and its payout.
type Spin struct {
	Bet      decimal.Decimal `json:"bet"`
	Win      decimal.Decimal `json:"win"`
	LoggedAt time.Time       `json:"logged_at"`
}

// Net returns win minus bet.
func (s Spin) Net() decimal.Decimal {
	return s.Win.Sub(s.Bet)
}

// IsLDW reports a loss disguised as a win: a positive payout below the wager.
func (s Spin) IsLDW() bool {
	return s.Win.IsPositive() && s.Win.LessThan(s.Bet)
}

// Session is a device's betting session: setup figures, plan and spin ledger.
// Spins are stored newest first; the slice order is the audit trail.
type Session struct {
	ID                string          `json:"id"`
	Jurisdiction      string          `json:"jurisdiction"`
	Casino            string          `json:"casino"`
	Bankroll          decimal.Decimal `json:"bankroll"`
	FreePlay          decimal.Decimal `json:"free_play"`
	Goal              decimal.Decimal `json:"goal"`
	Plan              []Stage         `json:"plan"`
	Likelihood        float64         `json:"likelihood"`
	Analysis          string          `json:"analysis"`
	Spins             []Spin          `json:"spins"`
	CurrentStageIndex int             `json:"current_stage_index"`
	Activated         bool            `json:"activated"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// SetupFields are the values collected by the setup wizard plus the generated plan.
type SetupFields struct {
	Jurisdiction string
	Casino       string
	Bankroll     decimal.Decimal
	Goal         decimal.Decimal
	FreePlay     decimal.Decimal
	Plan         []Stage
	Likelihood   float64
	Analysis     string
}

// Validate checks the figures required before a plan may be generated.
func (f SetupFields) Validate() error {
	if strings.TrimSpace(f.Jurisdiction) == "" {
		return invalid("jurisdiction", ErrMissingJurisdiction)
	}
	if strings.TrimSpace(f.Casino) == "" {
		return invalid("casino", ErrMissingCasino)
	}
	return ValidateFigures(f.Bankroll, f.Goal, f.FreePlay)
}

// ValidateFigures checks bankroll, goal and free play in isolation.
func ValidateFigures(bankroll, goal, freePlay decimal.Decimal) error {
	if !bankroll.IsPositive() {
		return invalid("bankroll", ErrInvalidBankroll)
	}
	if !goal.GreaterThan(bankroll) {
		return invalid("goal", ErrGoalNotAboveBankroll)
	}
	if freePlay.IsNegative() {
		return invalid("free_play", ErrInvalidFreePlay)
	}
	return nil
}

// CreateSession builds a fresh session with an empty ledger at stage 0.
func CreateSession(f SetupFields) (Session, error) {
	if err := f.Validate(); err != nil {
		return Session{}, err
	}
	now := time.Now().UTC()
	return Session{
		ID:           uuid.NewString(),
		Jurisdiction: strings.TrimSpace(f.Jurisdiction),
		Casino:       strings.TrimSpace(f.Casino),
		Bankroll:     f.Bankroll,
		FreePlay:     f.FreePlay,
		Goal:         f.Goal,
		Plan:         append([]Stage(nil), f.Plan...),
		Likelihood:   f.Likelihood,
		Analysis:     f.Analysis,
		Spins:        []Spin{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ConsumeFreePlay moves free play into the bankroll when no spin has been logged.
// Once free play is zero the call has no effect.
func ConsumeFreePlay(s Session) Session {
	if len(s.Spins) > 0 || !s.FreePlay.IsPositive() {
		return s
	}
	s.Bankroll = s.Bankroll.Add(s.FreePlay)
	s.FreePlay = decimal.Zero
	s.UpdatedAt = time.Now().UTC()
	return s
}

// EnterActiveSession runs the one-time activation of a session.
func EnterActiveSession(s Session) Session {
	if s.Activated {
		return s
	}
	s = ConsumeFreePlay(s)
	s.Activated = true
	s.UpdatedAt = time.Now().UTC()
	return s
}

// LogSpin prepends a spin to the ledger.
func LogSpin(s Session, spin Spin) (Session, error) {
	if !spin.Bet.IsPositive() {
		return s, invalid("bet", ErrInvalidBet)
	}
	if spin.Win.IsNegative() {
		return s, invalid("win", ErrInvalidWin)
	}
	if spin.LoggedAt.IsZero() {
		spin.LoggedAt = time.Now().UTC()
	}
	spins := make([]Spin, 0, len(s.Spins)+1)
	spins = append(spins, spin)
	s.Spins = append(spins, s.Spins...)
	s.UpdatedAt = time.Now().UTC()
	return s, nil
}

// Direction moves the current stage pointer.
type Direction string

const (
	Next Direction = "next"
	Prev Direction = "prev"
)

// ParseDirection accepts "next" or "prev".
func ParseDirection(v string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(v))); d {
	case Next, Prev:
		return d, nil
	default:
		return "", invalid("direction", fmt.Errorf("unknown direction %q", v))
	}
}

// AdvanceStage moves the stage pointer by one, clamped to the plan bounds.
func AdvanceStage(s Session, d Direction) Session {
	if len(s.Plan) == 0 {
		s.CurrentStageIndex = 0
		return s
	}
	idx := s.CurrentStageIndex
	switch d {
	case Next:
		idx++
	case Prev:
		idx--
	}
	idx = max(0, min(idx, len(s.Plan)-1))
	if idx != s.CurrentStageIndex {
		s.CurrentStageIndex = idx
		s.UpdatedAt = time.Now().UTC()
	}
	return s
}

// RefineStage replaces the bet strategy of one stage and marks it refined.
func RefineStage(s Session, index int, betStrategy string) (Session, error) {
	if index < 0 || index >= len(s.Plan) {
		return s, invalid("stage", ErrStageOutOfRange)
	}
	betStrategy = strings.TrimSpace(betStrategy)
	if betStrategy == "" {
		return s, invalid("bet_strategy", ErrEmptyStrategy)
	}
	plan := append([]Stage(nil), s.Plan...)
	plan[index].BetStrategy = betStrategy
	plan[index].IsRefined = true
	s.Plan = plan
	s.UpdatedAt = time.Now().UTC()
	return s, nil
}

// CurrentStage returns the stage under the pointer, if the plan has one.
func (s Session) CurrentStage() (Stage, bool) {
	if s.CurrentStageIndex < 0 || s.CurrentStageIndex >= len(s.Plan) {
		return Stage{}, false
	}
	return s.Plan[s.CurrentStageIndex], true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	s.Plan = append([]Stage(nil), s.Plan...)
	s.Spins = append([]Spin(nil), s.Spins...)
	if s.Spins == nil {
		s.Spins = []Spin{}
	}
	return s
}
