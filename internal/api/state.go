package api

import (
	"github.com/ashureev/usba/internal/wizard"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Money formats an amount as US dollars with two decimals.
func Money(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	if f < 0 {
		return printer.Sprintf("-$%.2f", -f)
	}
	return printer.Sprintf("$%.2f", f)
}

// Percent formats a 0-100 value with no decimals.
func Percent(p float64) string {
	return printer.Sprintf("%.0f%%", p)
}

// Display holds preformatted strings for the session screen.
type Display struct {
	Bankroll        string        `json:"bankroll"`
	FreePlay        string        `json:"free_play"`
	Goal            string        `json:"goal"`
	CurrentBankroll string        `json:"current_bankroll"`
	TotalNet        string        `json:"total_net"`
	TotalCoinIn     string        `json:"total_coin_in"`
	TheoreticalLoss string        `json:"theoretical_loss"`
	GoalProgress    string        `json:"goal_progress"`
	Likelihood      string        `json:"likelihood"`
	Stage           *StageDisplay `json:"stage,omitempty"`
}

// StageDisplay holds the current stage's triggers.
type StageDisplay struct {
	Number   int    `json:"number"`
	Of       int    `json:"of"`
	StopLoss string `json:"stop_loss"`
	WinGoal  string `json:"win_goal"`
}

// StateView is the snapshot sent to the browser over HTTP and WebSocket.
type StateView struct {
	wizard.Snapshot
	Display *Display `json:"display,omitempty"`
}

// NewStateView adds display strings to a snapshot that carries a session.
func NewStateView(s wizard.Snapshot) StateView {
	v := StateView{Snapshot: s}
	if s.Session == nil || s.Metrics == nil {
		return v
	}
	sess, mt := s.Session, s.Metrics
	d := &Display{
		Bankroll:        Money(sess.Bankroll),
		FreePlay:        Money(sess.FreePlay),
		Goal:            Money(sess.Goal),
		CurrentBankroll: Money(mt.CurrentBankroll),
		TotalNet:        Money(mt.TotalNet),
		TotalCoinIn:     Money(mt.TotalCoinIn),
		TheoreticalLoss: Money(mt.TheoreticalLoss),
		GoalProgress:    Percent(mt.GoalProgressPercent),
		Likelihood:      Percent(sess.Likelihood),
	}
	if st, ok := sess.CurrentStage(); ok {
		d.Stage = &StageDisplay{
			Number:   sess.CurrentStageIndex + 1,
			Of:       len(sess.Plan),
			StopLoss: Money(st.StopLoss),
			WinGoal:  Money(st.WinGoal),
		}
	}
	v.Display = d
	return v
}
