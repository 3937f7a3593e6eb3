package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/shopspring/decimal"
)

// InstrumentedGateway records call counts and latency for every gateway call.
type InstrumentedGateway struct {
	next gateway.Gateway
	now  func() time.Time
}

var _ gateway.Gateway = (*InstrumentedGateway)(nil)

// Instrument wraps g with metrics.
func Instrument(g gateway.Gateway) *InstrumentedGateway {
	return &InstrumentedGateway{next: g, now: time.Now}
}

func (g *InstrumentedGateway) observe(op string, start time.Time, err error) {
	RecordGatewayCall(op, callStatus(err), g.now().Sub(start).Seconds())
}

func callStatus(err error) string {
	var gerr *gateway.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &gerr):
		return string(gerr.Kind)
	default:
		return "error"
	}
}

func (g *InstrumentedGateway) ResolveJurisdiction(ctx context.Context, lat, lon float64) (name string, err error) {
	defer func(start time.Time) { g.observe("resolve_jurisdiction", start, err) }(g.now())
	return g.next.ResolveJurisdiction(ctx, lat, lon)
}

func (g *InstrumentedGateway) ListCasinos(ctx context.Context, jurisdiction, hints string) (names []string, err error) {
	defer func(start time.Time) { g.observe("list_casinos", start, err) }(g.now())
	return g.next.ListCasinos(ctx, jurisdiction, hints)
}

func (g *InstrumentedGateway) SearchCasino(ctx context.Context, jurisdiction, query string) (names []string, err error) {
	defer func(start time.Time) { g.observe("search_casino", start, err) }(g.now())
	return g.next.SearchCasino(ctx, jurisdiction, query)
}

func (g *InstrumentedGateway) FetchRegionalAnalysis(ctx context.Context, jurisdiction string) (ra *gateway.RegionalAnalysis, err error) {
	defer func(start time.Time) { g.observe("regional_analysis", start, err) }(g.now())
	return g.next.FetchRegionalAnalysis(ctx, jurisdiction)
}

func (g *InstrumentedGateway) GeneratePlan(ctx context.Context, req gateway.PlanRequest) (res *gateway.PlanResult, err error) {
	defer func(start time.Time) { g.observe("generate_plan", start, err) }(g.now())
	return g.next.GeneratePlan(ctx, req)
}

func (g *InstrumentedGateway) RefinePlanStage(ctx context.Context, stage domain.Stage, machineName string, bankroll decimal.Decimal) (s string, err error) {
	defer func(start time.Time) { g.observe("refine_stage", start, err) }(g.now())
	return g.next.RefinePlanStage(ctx, stage, machineName, bankroll)
}

func (g *InstrumentedGateway) AnalyzeImage(ctx context.Context, img gateway.Image) (md *gateway.MachineData, err error) {
	defer func(start time.Time) { g.observe("analyze_paytable", start, err) }(g.now())
	return g.next.AnalyzeImage(ctx, img)
}

func (g *InstrumentedGateway) IdentifyMachine(ctx context.Context, img gateway.Image) (name string, err error) {
	defer func(start time.Time) { g.observe("identify_machine", start, err) }(g.now())
	return g.next.IdentifyMachine(ctx, img)
}

func (g *InstrumentedGateway) ListMachines(ctx context.Context, casino string) (names []string, err error) {
	defer func(start time.Time) { g.observe("list_machines", start, err) }(g.now())
	return g.next.ListMachines(ctx, casino)
}

func (g *InstrumentedGateway) DynamicInsight(ctx context.Context, s domain.Session) (text string, err error) {
	defer func(start time.Time) { g.observe("dynamic_insight", start, err) }(g.now())
	return g.next.DynamicInsight(ctx, s)
}

func (g *InstrumentedGateway) CompStrategy(ctx context.Context, coinIn decimal.Decimal, tier string, pointsToNext int) (text string, err error) {
	defer func(start time.Time) { g.observe("comp_strategy", start, err) }(g.now())
	return g.next.CompStrategy(ctx, coinIn, tier, pointsToNext)
}
