package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// maxImageBytes caps uploaded machine and paytable photos.
const maxImageBytes = 10 << 20

type spinRequest struct {
	Bet decimal.Decimal `json:"bet"`
	Win decimal.Decimal `json:"win"`
}

type stageRequest struct {
	Direction string `json:"direction"`
}

type refineRequest struct {
	MachineName string `json:"machineName"`
}

type compsRequest struct {
	Tier         string              `json:"tier"`
	PointsToNext int                 `json:"pointsToNext"`
	HouseEdge    decimal.NullDecimal `json:"houseEdge"`
	AI           bool                `json:"ai"`
}

type compsResponse struct {
	domain.CompsEstimate
	TheoDisplay string `json:"theo_display"`
	Advice      string `json:"advice,omitempty"`
}

// BeginSession moves from the plan into the live session.
func (h *Handler) BeginSession(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	respond(w, m, m.Begin(r.Context()))
}

// LogSpin appends a wager and payout to the ledger.
func (h *Handler) LogSpin(w http.ResponseWriter, r *http.Request) {
	var req spinRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.LogSpin(r.Context(), req.Bet, req.Win))
}

// MoveStage moves the current stage pointer.
func (h *Handler) MoveStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := domain.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}
	m := h.machine(r)
	respond(w, m, m.AdvanceStage(r.Context(), d))
}

// RefineStage rewrites a stage's bet strategy for a specific machine.
func (h *Handler) RefineStage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid stage index")
		return
	}
	var req refineRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	respond(w, m, m.RefineStage(r.Context(), index, req.MachineName))
}

// EndSession discards the session and returns to the start of setup.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	respond(w, m, m.Terminate(r.Context()))
}

// RecordWin records a hand-pay win, which ends the session.
func (h *Handler) RecordWin(w http.ResponseWriter, r *http.Request) {
	m := h.machine(r)
	respond(w, m, m.RecordWin(r.Context()))
}

// ListMachines suggests slot titles at the session's casino.
func (h *Handler) ListMachines(w http.ResponseWriter, r *http.Request) {
	names, err := h.machine(r).ListMachines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	JSON(w, http.StatusOK, map[string][]string{"machines": names})
}

// Insight returns a short comment on the session so far.
func (h *Handler) Insight(w http.ResponseWriter, r *http.Request) {
	text, err := h.machine(r).Insight(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"insight": text})
}

// Comps estimates THEO and a tier suggestion. With ai set, AI advice is
// added, subject to the rate limit.
func (h *Handler) Comps(w http.ResponseWriter, r *http.Request) {
	var req compsRequest
	if !decode(w, r, &req) {
		return
	}
	m := h.machine(r)
	est, err := m.Comps(domain.CompsInput{
		Tier:             strings.TrimSpace(req.Tier),
		PointsToNext:     req.PointsToNext,
		HouseEdgePercent: req.HouseEdge,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := compsResponse{CompsEstimate: est, TheoDisplay: Money(est.Theo)}

	if req.AI {
		if !h.limiter.Allow(identity.UserIDFromContext(r.Context())) {
			rateLimited(w)
			return
		}
		advice, err := m.CompStrategy(r.Context(), strings.TrimSpace(req.Tier), req.PointsToNext)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Advice = advice
	}
	JSON(w, http.StatusOK, resp)
}

// IdentifyMachine reads the game title from an uploaded photo.
func (h *Handler) IdentifyMachine(w http.ResponseWriter, r *http.Request) {
	img, ok := readImage(w, r)
	if !ok {
		return
	}
	name, err := h.machine(r).IdentifyMachine(r.Context(), img)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"name": name})
}

// AnalyzePaytable extracts machine details from an uploaded paytable photo.
func (h *Handler) AnalyzePaytable(w http.ResponseWriter, r *http.Request) {
	img, ok := readImage(w, r)
	if !ok {
		return
	}
	md, err := h.machine(r).AnalyzePaytable(r.Context(), img)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, md)
}

// readImage reads the "image" part of a multipart upload.
func readImage(w http.ResponseWriter, r *http.Request) (gateway.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+(1<<20))
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "image is too large")
			return gateway.Image{}, false
		}
		Error(w, http.StatusBadRequest, "expected a multipart form with an image")
		return gateway.Image{}, false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		Error(w, http.StatusBadRequest, "image is required")
		return gateway.Image{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read image")
		return gateway.Image{}, false
	}
	if len(data) == 0 {
		Error(w, http.StatusBadRequest, "image is empty")
		return gateway.Image{}, false
	}
	if len(data) > maxImageBytes {
		Error(w, http.StatusRequestEntityTooLarge, "image is too large")
		return gateway.Image{}, false
	}

	mimeType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		Error(w, http.StatusBadRequest, "file is not an image")
		return gateway.Image{}, false
	}
	return gateway.Image{Data: data, MIMEType: mimeType}, true
}
