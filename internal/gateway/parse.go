package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/ashureev/usba/internal/domain"
	"github.com/shopspring/decimal"
)

const maxCasinos = 25

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	objectSpan = regexp.MustCompile(`(?s)\{.*\}`)
	arraySpan  = regexp.MustCompile(`(?s)\[.*\]`)

	errNoJSON = errors.New("no JSON value found in response")
)

// Stage field defaults applied when the model omits or mangles a field.
const (
	defaultGameName         = "Unnamed Game"
	defaultBetStrategy      = "Not specified"
	defaultReasoning        = "Standard protocol."
	defaultObjective        = "Play according to strategy"
	defaultTimeLimitMinutes = 30
	defaultContingency      = "Re-evaluate or proceed to next stage."
)

var defaultStopLossRatio = decimal.RequireFromString("0.9")

// extractJSON decodes the first JSON value it can find in model output: a
// fenced block, then the whole text, then the widest {...} or [...] span.
// Numbers decode as json.Number.
func extractJSON(text string) (any, error) {
	text = strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if v, err := decodeJSON(m[1]); err == nil {
			return v, nil
		}
	} else if v, err := decodeJSON(text); err == nil {
		return v, nil
	}
	for _, re := range []*regexp.Regexp{objectSpan, arraySpan} {
		if span := re.FindString(text); span != "" {
			if v, err := decodeJSON(span); err == nil {
				return v, nil
			}
		}
	}
	return nil, errNoJSON
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func parseJurisdiction(op, text string) (string, error) {
	name := strings.Trim(strings.TrimSpace(text), `"'.`)
	if name == "" || strings.EqualFold(name, "unknown") {
		return "", formatError(op, "no jurisdiction in response")
	}
	return name, nil
}

// parseFreeText returns trimmed prose output.
func parseFreeText(op, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", formatError(op, "empty response")
	}
	return text, nil
}

// parseNameList accepts a JSON array of strings. Non-string and blank entries
// are dropped and duplicates removed. limit <= 0 means no cap.
func parseNameList(op, text string, sorted bool, limit int) ([]string, error) {
	v, err := extractJSON(text)
	if err != nil {
		return nil, formatError(op, "%v", err)
	}
	arr, ok := v.([]any)
	if !ok {
		if obj, isObj := v.(map[string]any); isObj {
			arr, ok = firstArray(obj)
		}
		if !ok {
			return nil, formatError(op, "expected a JSON array of names")
		}
	}

	seen := make(map[string]struct{}, len(arr))
	names := make([]string, 0, len(arr))
	for _, item := range arr {
		s, isStr := item.(string)
		if !isStr {
			continue
		}
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, s)
	}
	if sorted {
		sort.SliceStable(names, func(i, j int) bool {
			return strings.ToLower(names[i]) < strings.ToLower(names[j])
		})
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

// firstArray finds a lone array value in a wrapper object like {"casinos": [...]}.
func firstArray(obj map[string]any) ([]any, bool) {
	var found []any
	n := 0
	for _, v := range obj {
		if arr, ok := v.([]any); ok {
			found = arr
			n++
		}
	}
	return found, n == 1
}

// parsePlan validates the top-level plan object and fills stage defaults
// from the request figures.
func parsePlan(op, text string, req PlanRequest) (*PlanResult, error) {
	v, err := extractJSON(text)
	if err != nil {
		return nil, formatError(op, "%v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, formatError(op, "AI returned an invalid plan format")
	}
	likelihood, okL := number(obj["likelihood"])
	analysis, okA := obj["analysis"].(string)
	rawPlan, okP := obj["plan"].([]any)
	if !okL || !okA || !okP || len(rawPlan) == 0 {
		return nil, formatError(op, "AI returned an invalid plan format")
	}

	lf, _ := likelihood.Float64()
	lf = min(max(lf, 0), 100)

	plan := make([]domain.Stage, 0, len(rawPlan))
	for i, raw := range rawPlan {
		step, _ := raw.(map[string]any)
		plan = append(plan, sanitizeStage(step, i, req))
	}
	return &PlanResult{Plan: plan, Likelihood: lf, Analysis: strings.TrimSpace(analysis)}, nil
}

func sanitizeStage(step map[string]any, index int, req PlanRequest) domain.Stage {
	st := domain.Stage{
		Stage:            index + 1,
		GameName:         stringOr(step["gameName"], defaultGameName),
		BetStrategy:      stringOr(step["betStrategy"], defaultBetStrategy),
		Reasoning:        stringOr(step["reasoning"], defaultReasoning),
		Objective:        stringOr(step["objective"], defaultObjective),
		StopLoss:         req.Bankroll.Mul(defaultStopLossRatio),
		WinGoal:          req.Goal,
		TimeLimitMinutes: defaultTimeLimitMinutes,
		ContingencyPlan:  stringOr(step["contingencyPlan"], defaultContingency),
	}
	if n, ok := number(step["stage"]); ok && n.IntPart() > 0 {
		st.Stage = int(n.IntPart())
	}
	if n, ok := number(step["stopLoss"]); ok && n.IsPositive() {
		st.StopLoss = n
	}
	if n, ok := number(step["winGoal"]); ok && n.IsPositive() {
		st.WinGoal = n
	}
	if n, ok := number(step["timeLimitMinutes"]); ok && n.IntPart() > 0 {
		st.TimeLimitMinutes = int(n.IntPart())
	}
	return st
}

// parseRefinement reads {"refinedBetStrategy": "..."}.
func parseRefinement(op, text string) (string, error) {
	v, err := extractJSON(text)
	if err != nil {
		return "", formatError(op, "%v", err)
	}
	obj, _ := v.(map[string]any)
	s, ok := obj["refinedBetStrategy"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", formatError(op, "AI returned an invalid refinement format")
	}
	return strings.TrimSpace(s), nil
}

// parseMachineData keeps whichever paytable fields are present and well typed.
func parseMachineData(op, text string) (*MachineData, error) {
	v, err := extractJSON(text)
	if err != nil {
		return nil, formatError(op, "%v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, formatError(op, "expected a JSON object")
	}
	md := &MachineData{
		GameName: stringOr(obj["gameName"], ""),
		Vendor:   stringOr(obj["vendor"], ""),
	}
	if n, ok := number(obj["denomination"]); ok && n.IsPositive() {
		md.Denomination = decimal.NewNullDecimal(n)
	}
	if n, ok := number(obj["maxBet"]); ok && n.IsPositive() {
		md.MaxBet = decimal.NewNullDecimal(n)
	}
	return md, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return fallback
}

func number(v any) (decimal.Decimal, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
