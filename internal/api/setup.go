package api

import (
	"net/http"

	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/wizard"
	"github.com/shopspring/decimal"
)

type detectRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type jurisdictionRequest struct {
	Jurisdiction string `json:"jurisdiction"`
}

type confirmRequest struct {
	Preferences string `json:"preferences"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type casinoRequest struct {
	Casino string `json:"casino"`
}

type planRequest struct {
	Bankroll decimal.Decimal `json:"bankroll"`
	Goal     decimal.Decimal `json:"goal"`
	FreePlay decimal.Decimal `json:"freePlay"`
	Strategy string          `json:"strategy"`
}

// AcceptDisclaimer moves past the responsible-gambling disclaimer.
func (h *Handler) AcceptDisclaimer(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	respond(w, m, m.AcceptDisclaimer(r.Context()))
}

// DetectLocation resolves the jurisdiction from coordinates. A failed
// lookup still succeeds with the default jurisdiction and a message.
func (h *Handler) DetectLocation(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Lat == nil || req.Lon == nil || *req.Lat < -90 || *req.Lat > 90 || *req.Lon < -180 || *req.Lon > 180 {
		Error(w, http.StatusBadRequest, "valid lat and lon are required")
		return
	}
	m := h.machine(r)
	respond(w, m, m.DetectJurisdiction(r.Context(), *req.Lat, *req.Lon))
}

// SetLocation sets the jurisdiction by hand.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req jurisdictionRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.SetJurisdiction(r.Context(), req.Jurisdiction))
}

// ConfirmLocation fetches the casino list and moves to casino selection.
func (h *Handler) ConfirmLocation(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.ConfirmLocation(r.Context(), req.Preferences))
}

// SearchCasinos replaces the offered casinos with search results.
func (h *Handler) SearchCasinos(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.SearchCasinos(r.Context(), req.Query))
}

// SelectCasino picks a casino and moves to the bankroll step.
func (h *Handler) SelectCasino(w http.ResponseWriter, r *http.Request) {
	var req casinoRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.SelectCasino(r.Context(), req.Casino))
}

// GeneratePlan validates the figures and asks for a staged plan.
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	strategy, err := gateway.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, err)
		return
	}
	m := h.machine(r)
	respond(w, m, m.GeneratePlan(r.Context(), wizard.PlanInput{
		Bankroll: req.Bankroll,
		Goal:     req.Goal,
		FreePlay: req.FreePlay,
		Strategy: strategy,
	}))
}

// RegionalAnalysis returns payback information for the jurisdiction.
func (h *Handler) RegionalAnalysis(w http.ResponseWriter, r *http.Request) {
	ra, err := h.machine(r).RegionalAnalysis(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ra.Sources == nil {
		ra.Sources = []gateway.Source{}
	}
	JSON(w, http.StatusOK, ra)
}
