// Package gateway defines the AI service contract used by the session wizard
// and its Gemini implementation.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/usba/internal/domain"
	"github.com/shopspring/decimal"
)

// Gateway is the request/response contract with the generative AI service.
// Every method may fail; failures are *Error values.
type Gateway interface {
	ResolveJurisdiction(ctx context.Context, lat, lon float64) (string, error)
	ListCasinos(ctx context.Context, jurisdiction, preferenceHints string) ([]string, error)
	SearchCasino(ctx context.Context, jurisdiction, query string) ([]string, error)
	FetchRegionalAnalysis(ctx context.Context, jurisdiction string) (*RegionalAnalysis, error)
	GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error)
	RefinePlanStage(ctx context.Context, stage domain.Stage, machineName string, currentBankroll decimal.Decimal) (string, error)
	AnalyzeImage(ctx context.Context, img Image) (*MachineData, error)
	IdentifyMachine(ctx context.Context, img Image) (string, error)
	ListMachines(ctx context.Context, casino string) ([]string, error)
	DynamicInsight(ctx context.Context, s domain.Session) (string, error)
	CompStrategy(ctx context.Context, coinIn decimal.Decimal, tier string, pointsToNext int) (string, error)
}

// Source is a grounding reference returned with search-backed answers.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// RegionalAnalysis is a payback-percentage summary for a jurisdiction.
type RegionalAnalysis struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Strategy is an optional betting-style hint for plan generation.
type Strategy string

const (
	StrategyNone        Strategy = ""
	StrategyFlat        Strategy = "Flat"
	StrategyProgressive Strategy = "Progressive"
	StrategyMartingale  Strategy = "Martingale"
	StrategyParoli      Strategy = "Paroli"
)

// ParseStrategy accepts a known strategy name, case-insensitively, or "".
func ParseStrategy(v string) (Strategy, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return StrategyNone, nil
	}
	for _, s := range []Strategy{StrategyFlat, StrategyProgressive, StrategyMartingale, StrategyParoli} {
		if strings.EqualFold(v, string(s)) {
			return s, nil
		}
	}
	return StrategyNone, &domain.ValidationError{Field: "strategy", Err: fmt.Errorf("unknown strategy %q", v)}
}

// PlanRequest carries the validated setup figures for plan generation.
type PlanRequest struct {
	Bankroll     decimal.Decimal
	Goal         decimal.Decimal
	FreePlay     decimal.Decimal
	Jurisdiction string
	Casino       string
	Strategy     Strategy
}

// Validate enforces the caller-side invariants again at the gateway boundary.
func (r PlanRequest) Validate() error {
	return domain.SetupFields{
		Jurisdiction: r.Jurisdiction,
		Casino:       r.Casino,
		Bankroll:     r.Bankroll,
		Goal:         r.Goal,
		FreePlay:     r.FreePlay,
	}.Validate()
}

// PlanResult is a sanitized plan ready for domain.CreateSession.
type PlanResult struct {
	Plan       []domain.Stage
	Likelihood float64
	Analysis   string
}

// Image is an uploaded photo of a machine or paytable.
type Image struct {
	Data     []byte
	MIMEType string
}

// MachineData holds whatever fields could be read from a paytable photo.
type MachineData struct {
	GameName     string              `json:"game_name,omitempty"`
	Vendor       string              `json:"vendor,omitempty"`
	Denomination decimal.NullDecimal `json:"denomination"`
	MaxBet       decimal.NullDecimal `json:"max_bet"`
}
