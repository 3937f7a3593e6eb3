package gateway

import (
	"context"
	"errors"

	"github.com/ashureev/usba/internal/domain"
	"github.com/shopspring/decimal"
)

var errDisabled = errors.New("AI features are disabled on this server")

// Disabled is a Gateway whose every call fails with KindUnavailable.
// It is used when AI_DISABLED is set.
type Disabled struct{}

var _ Gateway = Disabled{}

func unavailable(op string) error {
	return &Error{Op: op, Kind: KindUnavailable, Err: errDisabled}
}

func (Disabled) ResolveJurisdiction(context.Context, float64, float64) (string, error) {
	return "", unavailable("resolve_jurisdiction")
}

func (Disabled) ListCasinos(context.Context, string, string) ([]string, error) {
	return nil, unavailable("list_casinos")
}

func (Disabled) SearchCasino(context.Context, string, string) ([]string, error) {
	return nil, unavailable("search_casino")
}

func (Disabled) FetchRegionalAnalysis(context.Context, string) (*RegionalAnalysis, error) {
	return nil, unavailable("regional_analysis")
}

func (Disabled) GeneratePlan(context.Context, PlanRequest) (*PlanResult, error) {
	return nil, unavailable("generate_plan")
}

func (Disabled) RefinePlanStage(context.Context, domain.Stage, string, decimal.Decimal) (string, error) {
	return "", unavailable("refine_stage")
}

func (Disabled) AnalyzeImage(context.Context, Image) (*MachineData, error) {
	return nil, unavailable("analyze_paytable")
}

func (Disabled) IdentifyMachine(context.Context, Image) (string, error) {
	return "", unavailable("identify_machine")
}

func (Disabled) ListMachines(context.Context, string) ([]string, error) {
	return nil, unavailable("list_machines")
}

func (Disabled) DynamicInsight(context.Context, domain.Session) (string, error) {
	return "", unavailable("dynamic_insight")
}

func (Disabled) CompStrategy(context.Context, decimal.Decimal, string, int) (string, error) {
	return "", unavailable("comp_strategy")
}
