package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CompsInput is the player's loyalty-program status for a comps estimate.
// An unset HouseEdgePercent means the player gave no estimate; an explicit
// zero is used as given.
type CompsInput struct {
	Tier             string
	PointsToNext     int
	HouseEdgePercent decimal.NullDecimal
}

// CompsEstimate is the THEO figure and a tier suggestion for the session's coin-in.
type CompsEstimate struct {
	CoinIn           decimal.Decimal `json:"coin_in"`
	HouseEdgePercent decimal.Decimal `json:"house_edge_percent"`
	HouseEdgeDefault bool            `json:"house_edge_default"`
	Theo             decimal.Decimal `json:"theo"`
	Suggestion       string          `json:"suggestion"`
}

var tierCoinInFactor = decimal.RequireFromString("1.5")

// EstimateComps computes THEO from the ledger and a rule-based tier suggestion.
// Without a house edge it uses DefaultHouseEdgePercent and says so.
func EstimateComps(s Session, in CompsInput) (CompsEstimate, error) {
	edge, defaulted := DefaultHouseEdgePercent, true
	if in.HouseEdgePercent.Valid {
		edge, defaulted = in.HouseEdgePercent.Decimal, false
		if edge.IsNegative() || edge.GreaterThan(hundred) {
			return CompsEstimate{}, invalid("house_edge", ErrInvalidHouseEdge)
		}
	}
	coinIn := TotalCoinIn(s.Spins)
	return CompsEstimate{
		CoinIn:           coinIn,
		HouseEdgePercent: edge,
		HouseEdgeDefault: defaulted,
		Theo:             TheoreticalLoss(coinIn, edge),
		Suggestion:       CompsSuggestion(in.Tier, in.PointsToNext),
	}, nil
}

// CompsSuggestion returns advice for reaching the next loyalty tier.
func CompsSuggestion(tier string, pointsToNext int) string {
	if strings.TrimSpace(tier) == "" || pointsToNext <= 0 {
		return "Please enter your current tier and points needed to generate a strategy."
	}
	switch {
	case pointsToNext < 100:
		return fmt.Sprintf("You're very close. With only %d points needed for the next tier, a short, focused session on a $1 machine could get you there.", pointsToNext)
	case pointsToNext < 500:
		target := decimal.NewFromInt(int64(pointsToNext)).Mul(tierCoinInFactor).Round(0)
		return fmt.Sprintf("You're within striking distance. To reach the next tier, plan for a session with a target coin-in of around $%s, and stop if your stop-loss is reached first.", target.StringFixed(0))
	default:
		return "The next tier is a longer-term goal. Focus on the THEO this trip earns for offers at your current play level, and always use your player's card."
	}
}
