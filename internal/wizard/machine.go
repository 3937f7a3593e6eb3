package wizard

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/telemetry"
	"github.com/shopspring/decimal"
)

// DefaultJurisdiction is used when location detection fails.
const DefaultJurisdiction = "Nevada"

// Slot persists the session. Implementations log their own failures.
type Slot interface {
	Load(ctx context.Context) (domain.Session, bool)
	Save(ctx context.Context, s domain.Session)
	Clear(ctx context.Context)
}

// Observer receives a snapshot after every state change.
type Observer func(Snapshot)

// Machine is one device's wizard. All methods are safe for concurrent use;
// the lock is released while a gateway call is in flight.
type Machine struct {
	mu       sync.Mutex
	userID   string
	gw       gateway.Gateway
	slot     Slot
	observer Observer
	now      func() time.Time

	started  bool
	phase    Phase
	step     Step
	draft    Draft
	session  *domain.Session
	errMsg   string
	epoch    uint64
	version  uint64
	versions *atomic.Uint64
	dirty    bool
	inflight int
	lastUsed time.Time
}

// NewMachine creates an unstarted machine.
func NewMachine(userID string, gw gateway.Gateway, slot Slot, observer Observer) *Machine {
	m := &Machine{
		userID:   userID,
		gw:       gw,
		slot:     slot,
		observer: observer,
		now:      time.Now,
		phase:    PhaseDisclaimer,
		draft:    Draft{Casinos: []string{}},
		versions: new(atomic.Uint64),
	}
	m.lastUsed = m.now()
	return m
}

func (m *Machine) lock() {
	m.mu.Lock()
	m.lastUsed = m.now()
}

// release unlocks and publishes a snapshot if the state changed.
func (m *Machine) release() {
	var snap *Snapshot
	if m.dirty {
		s := m.snapshotLocked()
		snap = &s
		m.dirty = false
	}
	m.mu.Unlock()
	if snap != nil && m.observer != nil {
		m.observer(*snap)
	}
}

// unlocked runs fn without the lock held. The caller holds the lock before
// and after.
func (m *Machine) unlocked(fn func()) {
	m.inflight++
	m.release()
	fn()
	m.lock()
	m.inflight--
}

// changed draws the next version from a counter that outlives the machine,
// so a device's versions keep rising after eviction and recreation.
func (m *Machine) changed() {
	m.version = m.versions.Add(1)
	m.dirty = true
}

// moveTo changes phase and step and invalidates in-flight setup responses.
func (m *Machine) moveTo(p Phase, s Step) {
	m.phase = p
	m.step = s
	m.epoch++
	m.changed()
}

func (m *Machine) setError(msg string) {
	if m.errMsg != msg {
		m.errMsg = msg
		m.changed()
	}
}

func (m *Machine) expect(op string, phase Phase, steps ...Step) error {
	if m.phase != phase || (len(steps) > 0 && !slices.Contains(steps, m.step)) {
		return &TransitionError{Op: op, Phase: m.phase, Step: m.step}
	}
	return nil
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case domain.IsValidation(err):
		result = "invalid"
	case errors.Is(err, ErrInvalidTransition):
		result = "transition"
	case errors.Is(err, ErrStale):
		result = "stale"
	default:
		result = "gateway_error"
	}
	telemetry.RecordTransition(op, result)
}

// Start restores a stored session, entering it directly, or shows the
// disclaimer. Later calls do nothing. The load is detached from ctx because
// an aborted request must not decide the device's phase.
func (m *Machine) Start(ctx context.Context) {
	m.lock()
	defer m.release()
	if m.started {
		return
	}
	m.started = true
	ctx = context.WithoutCancel(ctx)

	sess, ok := m.slot.Load(ctx)
	if !ok {
		m.moveTo(PhaseDisclaimer, StepNone)
		return
	}
	if !sess.Activated {
		sess = domain.EnterActiveSession(sess)
		m.slot.Save(ctx, sess)
	}
	m.session = &sess
	m.moveTo(PhaseSession, StepNone)
	slog.Info("Session resumed", "user_id", m.userID, "session_id", sess.ID)
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		UserID:  m.userID,
		Version: m.version,
		Phase:   m.phase,
		Step:    m.step,
		Error:   m.errMsg,
		Draft:   m.draft.clone(),
	}
	if m.session != nil {
		s := m.session.Clone()
		metrics := domain.Summarize(s)
		snap.Session = &s
		snap.Metrics = &metrics
	}
	return snap
}

// AcceptDisclaimer moves to the location step.
func (m *Machine) AcceptDisclaimer(context.Context) (err error) {
	defer func() { record("accept_disclaimer", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("accept_disclaimer", PhaseDisclaimer); err != nil {
		return err
	}
	m.moveTo(PhaseSetup, StepLocation)
	m.setError("")
	return nil
}

// DetectJurisdiction resolves coordinates to a jurisdiction, falling back
// to DefaultJurisdiction on failure.
func (m *Machine) DetectJurisdiction(ctx context.Context, lat, lon float64) (err error) {
	defer func() { record("detect_jurisdiction", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("detect_jurisdiction", PhaseSetup, StepLocation); err != nil {
		return err
	}

	m.epoch++
	epoch := m.epoch
	var name string
	var gwErr error
	m.unlocked(func() {
		name, gwErr = m.gw.ResolveJurisdiction(context.WithoutCancel(ctx), lat, lon)
	})
	if m.epoch != epoch {
		return ErrStale
	}

	if gwErr != nil {
		slog.Warn("Jurisdiction detection failed", "user_id", m.userID, "error", gwErr)
		m.draft.Jurisdiction = DefaultJurisdiction
		m.setError(fallbackMessage(gwErr, MsgLocationFallback))
	} else {
		m.draft.Jurisdiction = name
		m.setError("")
	}
	m.changed()
	return nil
}

// SetJurisdiction records a manually entered jurisdiction.
func (m *Machine) SetJurisdiction(_ context.Context, name string) (err error) {
	defer func() { record("set_jurisdiction", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("set_jurisdiction", PhaseSetup, StepLocation); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "jurisdiction", Err: domain.ErrMissingJurisdiction}
	}
	m.epoch++
	m.draft.Jurisdiction = name
	m.setError("")
	m.changed()
	return nil
}

// ConfirmLocation fetches casinos for the jurisdiction and moves to the
// casino step, with an empty list if the fetch failed.
func (m *Machine) ConfirmLocation(ctx context.Context, preferences string) (err error) {
	defer func() { record("confirm_location", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("confirm_location", PhaseSetup, StepLocation); err != nil {
		return err
	}
	if strings.TrimSpace(m.draft.Jurisdiction) == "" {
		return &domain.ValidationError{Field: "jurisdiction", Err: domain.ErrMissingJurisdiction}
	}

	m.draft.Preferences = strings.TrimSpace(preferences)
	jurisdiction := m.draft.Jurisdiction
	m.epoch++
	epoch := m.epoch
	m.changed()

	var casinos []string
	var gwErr error
	m.unlocked(func() {
		casinos, gwErr = m.gw.ListCasinos(context.WithoutCancel(ctx), jurisdiction, preferences)
	})
	if m.epoch != epoch {
		return ErrStale
	}

	if gwErr != nil {
		slog.Warn("Casino list failed", "user_id", m.userID, "jurisdiction", jurisdiction, "error", gwErr)
		m.draft.Casinos = []string{}
		m.setError(fallbackMessage(gwErr, MsgCasinoFallback))
	} else {
		m.draft.Casinos = offerList(casinos)
		m.setError("")
	}
	m.moveTo(PhaseSetup, StepCasino)
	return nil
}

// MaxOfferedCasinos caps the casino list shown after location confirmation.
const MaxOfferedCasinos = 25

func offerList(names []string) []string {
	out := slices.Clone(names)
	slices.SortStableFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	out = slices.CompactFunc(out, strings.EqualFold)
	if len(out) > MaxOfferedCasinos {
		out = out[:MaxOfferedCasinos]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// SearchCasinos replaces the offered casino list with search results.
func (m *Machine) SearchCasinos(ctx context.Context, query string) (err error) {
	defer func() { record("search_casinos", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("search_casinos", PhaseSetup, StepCasino); err != nil {
		return err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return &domain.ValidationError{Field: "query", Err: domain.ErrMissingCasino}
	}

	jurisdiction := m.draft.Jurisdiction
	m.epoch++
	epoch := m.epoch
	var casinos []string
	var gwErr error
	m.unlocked(func() {
		casinos, gwErr = m.gw.SearchCasino(context.WithoutCancel(ctx), jurisdiction, query)
	})
	if m.epoch != epoch {
		return ErrStale
	}
	if gwErr != nil {
		m.setError(UserMessage(gwErr))
		return gwErr
	}
	m.draft.Casinos = append([]string{}, casinos...)
	m.setError("")
	m.changed()
	return nil
}

// SelectCasino records the casino and moves to the bankroll step.
func (m *Machine) SelectCasino(_ context.Context, name string) (err error) {
	defer func() { record("select_casino", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("select_casino", PhaseSetup, StepCasino); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "casino", Err: domain.ErrMissingCasino}
	}
	m.draft.Casino = name
	m.setError("")
	m.moveTo(PhaseSetup, StepBankroll)
	return nil
}

// GeneratePlan validates the figures, requests a plan and creates the
// session. On gateway failure the machine returns to the bankroll step.
func (m *Machine) GeneratePlan(ctx context.Context, in PlanInput) (err error) {
	defer func() { record("generate_plan", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("generate_plan", PhaseSetup, StepBankroll); err != nil {
		return err
	}

	m.draft.Bankroll = in.Bankroll
	m.draft.Goal = in.Goal
	m.draft.FreePlay = in.FreePlay
	m.draft.Strategy = in.Strategy
	m.changed()

	fields := domain.SetupFields{
		Jurisdiction: m.draft.Jurisdiction,
		Casino:       m.draft.Casino,
		Bankroll:     in.Bankroll,
		Goal:         in.Goal,
		FreePlay:     in.FreePlay,
	}
	if err := fields.Validate(); err != nil {
		return err
	}

	m.setError("")
	m.moveTo(PhaseSetup, StepGenerating)
	epoch := m.epoch
	req := gateway.PlanRequest{
		Bankroll:     fields.Bankroll,
		Goal:         fields.Goal,
		FreePlay:     fields.FreePlay,
		Jurisdiction: fields.Jurisdiction,
		Casino:       fields.Casino,
		Strategy:     in.Strategy,
	}

	var res *gateway.PlanResult
	var gwErr error
	m.unlocked(func() {
		res, gwErr = m.gw.GeneratePlan(context.WithoutCancel(ctx), req)
	})
	if m.epoch != epoch {
		return ErrStale
	}

	if gwErr == nil {
		fields.Plan = res.Plan
		fields.Likelihood = res.Likelihood
		fields.Analysis = res.Analysis
		var sess domain.Session
		if sess, gwErr = domain.CreateSession(fields); gwErr == nil {
			m.slot.Save(ctx, sess)
			m.session = &sess
			m.moveTo(PhasePlan, StepNone)
			slog.Info("Plan generated", "user_id", m.userID, "session_id", sess.ID, "stages", len(sess.Plan))
			return nil
		}
	}

	slog.Warn("Plan generation failed", "user_id", m.userID, "error", gwErr)
	m.setError(UserMessage(gwErr))
	m.moveTo(PhaseSetup, StepBankroll)
	return gwErr
}

// Begin activates the session, consuming free play once.
func (m *Machine) Begin(ctx context.Context) (err error) {
	defer func() { record("begin", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("begin", PhasePlan); err != nil {
		return err
	}
	sess := domain.EnterActiveSession(*m.session)
	m.slot.Save(ctx, sess)
	m.session = &sess
	m.setError("")
	m.moveTo(PhaseSession, StepNone)
	return nil
}

// LogSpin records a spin and saves the session.
func (m *Machine) LogSpin(ctx context.Context, bet, win decimal.Decimal) (err error) {
	defer func() { record("log_spin", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("log_spin", PhaseSession); err != nil {
		return err
	}
	sess, err := domain.LogSpin(*m.session, domain.Spin{Bet: bet, Win: win, LoggedAt: m.now().UTC()})
	if err != nil {
		return err
	}
	m.slot.Save(ctx, sess)
	m.session = &sess
	m.setError("")
	m.changed()
	telemetry.RecordSpin()
	return nil
}

// AdvanceStage moves the stage pointer and saves the session.
func (m *Machine) AdvanceStage(ctx context.Context, d domain.Direction) (err error) {
	defer func() { record("advance_stage", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("advance_stage", PhaseSession); err != nil {
		return err
	}
	sess := domain.AdvanceStage(*m.session, d)
	if sess.CurrentStageIndex != m.session.CurrentStageIndex {
		m.slot.Save(ctx, sess)
		m.session = &sess
		m.changed()
	}
	return nil
}

// RefineStage asks the gateway for a bet strategy tailored to machineName.
// The result is dropped if the session ended or was replaced meanwhile.
func (m *Machine) RefineStage(ctx context.Context, index int, machineName string) (err error) {
	defer func() { record("refine_stage", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("refine_stage", PhaseSession); err != nil {
		return err
	}
	if index < 0 || index >= len(m.session.Plan) {
		return &domain.ValidationError{Field: "stage", Err: domain.ErrStageOutOfRange}
	}
	machineName = strings.TrimSpace(machineName)
	if machineName == "" {
		return &domain.ValidationError{Field: "machine_name", Err: domain.ErrEmptyStrategy}
	}

	sessionID := m.session.ID
	stage := m.session.Plan[index]
	bankroll := domain.CurrentBankroll(*m.session)

	var strategy string
	var gwErr error
	m.unlocked(func() {
		strategy, gwErr = m.gw.RefinePlanStage(context.WithoutCancel(ctx), stage, machineName, bankroll)
	})
	if m.session == nil || m.session.ID != sessionID {
		return ErrStale
	}
	if gwErr != nil {
		m.setError(UserMessage(gwErr))
		return gwErr
	}

	sess, err := domain.RefineStage(*m.session, index, strategy)
	if err != nil {
		return err
	}
	m.slot.Save(ctx, sess)
	m.session = &sess
	m.setError("")
	m.changed()
	return nil
}

// Terminate discards the session and returns to the location step.
func (m *Machine) Terminate(ctx context.Context) (err error) {
	defer func() { record("terminate", err) }()
	m.lock()
	defer m.release()
	if m.phase != PhasePlan && m.phase != PhaseSession {
		return &TransitionError{Op: "terminate", Phase: m.phase, Step: m.step}
	}
	m.endLocked(ctx, "terminated")
	return nil
}

// RecordWin ends the session after a hand-pay.
func (m *Machine) RecordWin(ctx context.Context) (err error) {
	defer func() { record("record_win", err) }()
	m.lock()
	defer m.release()
	if err := m.expect("record_win", PhaseSession); err != nil {
		return err
	}
	m.endLocked(ctx, "win")
	return nil
}

func (m *Machine) endLocked(ctx context.Context, reason string) {
	sessionID := m.session.ID
	m.slot.Clear(ctx)
	m.session = nil
	m.draft = Draft{Casinos: []string{}}
	m.setError("")
	m.moveTo(PhaseSetup, StepLocation)
	telemetry.RecordSessionEnded(reason)
	slog.Info("Session ended", "user_id", m.userID, "session_id", sessionID, "reason", reason)
}

// jurisdictionLocked and casinoLocked prefer the session's values over the draft.
func (m *Machine) jurisdictionLocked() string {
	if m.session != nil {
		return m.session.Jurisdiction
	}
	return m.draft.Jurisdiction
}

func (m *Machine) casinoLocked() string {
	if m.session != nil {
		return m.session.Casino
	}
	return m.draft.Casino
}

// info runs a read-only gateway call. Failures set the user-facing error
// but change nothing else.
func (m *Machine) info(op string, fn func() error) (err error) {
	defer func() { record(op, err) }()
	m.lock()
	defer m.release()
	m.unlocked(func() { err = fn() })
	if err != nil {
		m.setError(UserMessage(err))
	}
	return err
}

// RegionalAnalysis returns the payback analysis for the current jurisdiction.
func (m *Machine) RegionalAnalysis(ctx context.Context) (*gateway.RegionalAnalysis, error) {
	m.lock()
	jurisdiction := m.jurisdictionLocked()
	m.mu.Unlock()
	if jurisdiction == "" {
		return nil, &domain.ValidationError{Field: "jurisdiction", Err: domain.ErrMissingJurisdiction}
	}
	var ra *gateway.RegionalAnalysis
	err := m.info("regional_analysis", func() (err error) {
		ra, err = m.gw.FetchRegionalAnalysis(ctx, jurisdiction)
		return err
	})
	return ra, err
}

// IdentifyMachine reads a game title from a photo.
func (m *Machine) IdentifyMachine(ctx context.Context, img gateway.Image) (string, error) {
	var name string
	err := m.info("identify_machine", func() (err error) {
		name, err = m.gw.IdentifyMachine(ctx, img)
		return err
	})
	return name, err
}

// AnalyzePaytable extracts machine details from a paytable photo.
func (m *Machine) AnalyzePaytable(ctx context.Context, img gateway.Image) (*gateway.MachineData, error) {
	var md *gateway.MachineData
	err := m.info("analyze_paytable", func() (err error) {
		md, err = m.gw.AnalyzeImage(ctx, img)
		return err
	})
	return md, err
}

// ListMachines suggests slot titles at the selected casino.
func (m *Machine) ListMachines(ctx context.Context) ([]string, error) {
	m.lock()
	casino := m.casinoLocked()
	m.mu.Unlock()
	if casino == "" {
		return nil, &domain.ValidationError{Field: "casino", Err: domain.ErrMissingCasino}
	}
	var names []string
	err := m.info("list_machines", func() (err error) {
		names, err = m.gw.ListMachines(ctx, casino)
		return err
	})
	return names, err
}

// sessionCopy returns the active session for session-phase reads.
func (m *Machine) sessionCopy(op string) (domain.Session, error) {
	m.lock()
	defer m.mu.Unlock()
	if err := m.expect(op, PhaseSession); err != nil {
		return domain.Session{}, err
	}
	return m.session.Clone(), nil
}

// Insight returns a short AI comment on the session so far.
func (m *Machine) Insight(ctx context.Context) (string, error) {
	sess, err := m.sessionCopy("insight")
	if err != nil {
		return "", err
	}
	var text string
	err = m.info("insight", func() (err error) {
		text, err = m.gw.DynamicInsight(ctx, sess)
		return err
	})
	return text, err
}

// CompStrategy returns AI advice on loyalty comps for this session's coin-in.
func (m *Machine) CompStrategy(ctx context.Context, tier string, pointsToNext int) (string, error) {
	sess, err := m.sessionCopy("comp_strategy")
	if err != nil {
		return "", err
	}
	coinIn := domain.TotalCoinIn(sess.Spins)
	var text string
	err = m.info("comp_strategy", func() (err error) {
		text, err = m.gw.CompStrategy(ctx, coinIn, tier, pointsToNext)
		return err
	})
	return text, err
}

// Comps computes THEO and the rule-based tier suggestion.
func (m *Machine) Comps(in domain.CompsInput) (domain.CompsEstimate, error) {
	sess, err := m.sessionCopy("comps")
	if err != nil {
		return domain.CompsEstimate{}, err
	}
	return domain.EstimateComps(sess, in)
}

// idle reports whether the machine has been unused for at least ttl and
// has no call in flight.
func (m *Machine) idle(now time.Time, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight == 0 && now.Sub(m.lastUsed) >= ttl
}
