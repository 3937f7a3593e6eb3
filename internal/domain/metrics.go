package domain

import (
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

var hundred = decimal.NewFromInt(100)

// DefaultHouseEdgePercent is used for THEO when the player gives no estimate.
var DefaultHouseEdgePercent = decimal.NewFromInt(8)

// TotalNet sums win minus bet over the ledger.
func TotalNet(spins []Spin) decimal.Decimal {
	total := decimal.Zero
	for _, sp := range spins {
		total = total.Add(sp.Net())
	}
	return total
}

// CurrentBankroll is the starting bankroll plus the ledger net.
func CurrentBankroll(s Session) decimal.Decimal {
	return s.Bankroll.Add(TotalNet(s.Spins))
}

// TotalCoinIn sums the wagers over the ledger.
func TotalCoinIn(spins []Spin) decimal.Decimal {
	total := decimal.Zero
	for _, sp := range spins {
		total = total.Add(sp.Bet)
	}
	return total
}

// LDWCount counts spins with 0 < win < bet.
func LDWCount(spins []Spin) int {
	n := 0
	for _, sp := range spins {
		if sp.IsLDW() {
			n++
		}
	}
	return n
}

// GoalProgressPercent is current bankroll over goal, clamped to [0, 100].
func GoalProgressPercent(s Session) float64 {
	if !s.Goal.IsPositive() {
		return 0
	}
	pct := CurrentBankroll(s).Div(s.Goal).Mul(hundred)
	switch {
	case pct.IsNegative():
		return 0
	case pct.GreaterThan(hundred):
		return 100
	}
	f, _ := pct.Float64()
	return f
}

// TheoreticalLoss estimates casino revenue from coin-in: coinIn * edge / 100.
func TheoreticalLoss(coinIn, houseEdgePercent decimal.Decimal) decimal.Decimal {
	return coinIn.Mul(houseEdgePercent).Div(hundred)
}

// StageStatus compares the running bankroll with the current stage triggers.
type StageStatus string

const (
	StageWithin      StageStatus = "within"
	StageStopLossHit StageStatus = "stop_loss_hit"
	StageWinGoalHit  StageStatus = "win_goal_hit"
)

// CurrentStageStatus reports whether the current stage's stop-loss or win goal was reached.
func CurrentStageStatus(s Session) StageStatus {
	stage, ok := s.CurrentStage()
	if !ok {
		return StageWithin
	}
	bankroll := CurrentBankroll(s)
	switch {
	case stage.StopLoss.IsPositive() && bankroll.LessThanOrEqual(stage.StopLoss):
		return StageStopLossHit
	case stage.WinGoal.IsPositive() && bankroll.GreaterThanOrEqual(stage.WinGoal):
		return StageWinGoalHit
	default:
		return StageWithin
	}
}

// SpinStats describes the spread of per-spin net results.
type SpinStats struct {
	MeanNet   float64 `json:"mean_net"`
	StdDevNet float64 `json:"std_dev_net"`
}

// ComputeSpinStats returns mean and sample standard deviation of net per spin.
func ComputeSpinStats(spins []Spin) SpinStats {
	if len(spins) == 0 {
		return SpinStats{}
	}
	nets := make([]float64, len(spins))
	for i, sp := range spins {
		nets[i], _ = sp.Net().Float64()
	}
	if len(nets) == 1 {
		return SpinStats{MeanNet: nets[0]}
	}
	mean, std := stat.MeanStdDev(nets, nil)
	return SpinStats{MeanNet: mean, StdDevNet: std}
}

// Metrics is every derived figure for one session, computed on demand.
type Metrics struct {
	TotalNet            decimal.Decimal `json:"total_net"`
	CurrentBankroll     decimal.Decimal `json:"current_bankroll"`
	TotalCoinIn         decimal.Decimal `json:"total_coin_in"`
	LDWCount            int             `json:"ldw_count"`
	SpinCount           int             `json:"spin_count"`
	GoalProgressPercent float64         `json:"goal_progress_percent"`
	TheoreticalLoss     decimal.Decimal `json:"theoretical_loss"`
	StageStatus         StageStatus     `json:"stage_status"`
	Stats               SpinStats       `json:"stats"`
}

// Summarize derives all metrics for s using the default house edge.
func Summarize(s Session) Metrics {
	coinIn := TotalCoinIn(s.Spins)
	return Metrics{
		TotalNet:            TotalNet(s.Spins),
		CurrentBankroll:     CurrentBankroll(s),
		TotalCoinIn:         coinIn,
		LDWCount:            LDWCount(s.Spins),
		SpinCount:           len(s.Spins),
		GoalProgressPercent: GoalProgressPercent(s),
		TheoreticalLoss:     TheoreticalLoss(coinIn, DefaultHouseEdgePercent),
		StageStatus:         CurrentStageStatus(s),
		Stats:               ComputeSpinStats(s.Spins),
	}
}
