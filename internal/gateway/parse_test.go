package gateway

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func testPlanRequest() PlanRequest {
	return PlanRequest{
		Bankroll:     decimal.NewFromInt(500),
		Goal:         decimal.NewFromInt(5000),
		Jurisdiction: "Nevada",
		Casino:       "Bellagio",
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want any
	}{
		{"fenced", "Here you go:\n```json\n{\"a\": \"b\"}\n```\nThanks", map[string]any{"a": "b"}},
		{"fenced without tag", "```\n[\"x\"]\n```", []any{"x"}},
		{"whole text", `  ["x", "y"]  `, []any{"x", "y"}},
		{"object span", `Sure! {"a": "b"} hope that helps`, map[string]any{"a": "b"}},
		{"array span", `Casinos: ["x"] found`, []any{"x"}},
		{"broken fence falls back to span", "```json\nnot valid\n```\n{\"a\": \"b\"}", map[string]any{"a": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.text)
			if err != nil {
				t.Fatalf("extractJSON: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	if _, err := extractJSON("no json here"); !errors.Is(err, errNoJSON) {
		t.Errorf("expected errNoJSON, got %v", err)
	}
}

func TestParseNameList(t *testing.T) {
	t.Parallel()

	got, err := parseNameList("op", `["Wynn", "aria", 42, "", "Wynn", " Bellagio "]`, true, 0)
	if err != nil {
		t.Fatalf("parseNameList: %v", err)
	}
	if want := []string{"aria", "Bellagio", "Wynn"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = parseNameList("op", `{"casinos": ["B", "A"]}`, false, 0)
	if err != nil || !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("wrapped array = %v, %v", got, err)
	}

	if _, err := parseNameList("op", `{"name": "x"}`, false, 0); !errors.Is(err, ErrFormat) {
		t.Errorf("object without array: expected ErrFormat, got %v", err)
	}
}

func TestParseNameList_CapsAtLimit(t *testing.T) {
	t.Parallel()

	names := make([]string, 40)
	for i := range names {
		names[i] = `"Casino ` + string(rune('A'+i%26)) + strings.Repeat("z", i/26) + `"`
	}
	got, err := parseNameList("op", "["+strings.Join(names, ",")+"]", true, maxCasinos)
	if err != nil {
		t.Fatalf("parseNameList: %v", err)
	}
	if len(got) != maxCasinos {
		t.Errorf("len = %d, want %d", len(got), maxCasinos)
	}
}

func TestParsePlan_AppliesDefaults(t *testing.T) {
	t.Parallel()

	text := "```json\n" + `{
  "likelihood": 4.5,
  "analysis": " Long odds. ",
  "plan": [
    {"gameName": "Dragon Link", "betStrategy": "Bet $2.50", "stopLoss": 420, "winGoal": 800, "timeLimitMinutes": 45},
    {"stage": 7, "stopLoss": 0, "winGoal": "lots"}
  ]
}` + "\n```"

	res, err := parsePlan("op", text, testPlanRequest())
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if res.Likelihood != 4.5 || res.Analysis != "Long odds." {
		t.Errorf("top level = %v %q", res.Likelihood, res.Analysis)
	}
	if len(res.Plan) != 2 {
		t.Fatalf("plan len = %d", len(res.Plan))
	}

	first := res.Plan[0]
	if first.Stage != 1 || first.GameName != "Dragon Link" || !first.StopLoss.Equal(decimal.NewFromInt(420)) || first.TimeLimitMinutes != 45 {
		t.Errorf("first stage = %+v", first)
	}
	if first.Reasoning != defaultReasoning || first.ContingencyPlan != defaultContingency {
		t.Errorf("first stage defaults = %+v", first)
	}

	second := res.Plan[1]
	if second.Stage != 7 {
		t.Errorf("stage number = %d, want 7", second.Stage)
	}
	if second.GameName != defaultGameName || second.BetStrategy != defaultBetStrategy || second.Objective != defaultObjective {
		t.Errorf("text defaults = %+v", second)
	}
	if !second.StopLoss.Equal(decimal.NewFromInt(450)) {
		t.Errorf("stop loss = %s, want 450", second.StopLoss)
	}
	if !second.WinGoal.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("win goal = %s, want 5000", second.WinGoal)
	}
	if second.TimeLimitMinutes != defaultTimeLimitMinutes {
		t.Errorf("time limit = %d", second.TimeLimitMinutes)
	}
}

func TestParsePlan_NonPositiveStageFields(t *testing.T) {
	t.Parallel()

	text := `{"likelihood": 10, "analysis": "x", "plan": [
  {"stage": 0, "timeLimitMinutes": 0},
  {"stage": -3, "timeLimitMinutes": -15}
]}`
	res, err := parsePlan("op", text, testPlanRequest())
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	for i, st := range res.Plan {
		if st.Stage != i+1 {
			t.Errorf("stage %d number = %d, want %d", i, st.Stage, i+1)
		}
		if st.TimeLimitMinutes != defaultTimeLimitMinutes {
			t.Errorf("stage %d time limit = %d, want %d", i, st.TimeLimitMinutes, defaultTimeLimitMinutes)
		}
	}
}

func TestParsePlan_ClampsLikelihood(t *testing.T) {
	t.Parallel()

	res, err := parsePlan("op", `{"likelihood": 180, "analysis": "x", "plan": [{}]}`, testPlanRequest())
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if res.Likelihood != 100 {
		t.Errorf("likelihood = %v, want 100", res.Likelihood)
	}
}

func TestParsePlan_InvalidFormat(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		`{"likelihood": "high", "analysis": "x", "plan": [{}]}`,
		`{"likelihood": 5, "plan": [{}]}`,
		`{"likelihood": 5, "analysis": "x", "plan": []}`,
		`{"likelihood": 5, "analysis": "x", "plan": {}}`,
		`[1, 2]`,
		`not json`,
	} {
		_, err := parsePlan("generate_plan", text, testPlanRequest())
		var gerr *Error
		if !errors.As(err, &gerr) || gerr.Kind != KindFormat {
			t.Errorf("%s: expected format error, got %v", text, err)
		}
	}
}

func TestParseRefinement(t *testing.T) {
	t.Parallel()

	got, err := parseRefinement("op", `{"refinedBetStrategy": "Bet $1.20 per spin."}`)
	if err != nil || got != "Bet $1.20 per spin." {
		t.Errorf("got %q, %v", got, err)
	}
	for _, text := range []string{`{"betStrategy": "x"}`, `{"refinedBetStrategy": "  "}`, `["x"]`} {
		if _, err := parseRefinement("op", text); !errors.Is(err, ErrFormat) {
			t.Errorf("%s: expected ErrFormat, got %v", text, err)
		}
	}
}

func TestParseMachineData_Partial(t *testing.T) {
	t.Parallel()

	md, err := parseMachineData("op", `{"gameName": "Buffalo Gold", "denomination": 0.01, "maxBet": "n/a"}`)
	if err != nil {
		t.Fatalf("parseMachineData: %v", err)
	}
	if md.GameName != "Buffalo Gold" || md.Vendor != "" {
		t.Errorf("names = %+v", md)
	}
	if !md.Denomination.Valid || !md.Denomination.Decimal.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("denomination = %+v", md.Denomination)
	}
	if md.MaxBet.Valid {
		t.Errorf("max bet should be absent, got %+v", md.MaxBet)
	}
}

func TestParseJurisdiction(t *testing.T) {
	t.Parallel()

	got, err := parseJurisdiction("op", " \"New Jersey\".\n")
	if err != nil || got != "New Jersey" {
		t.Errorf("got %q, %v", got, err)
	}
	for _, text := range []string{"", "Unknown"} {
		if _, err := parseJurisdiction("op", text); !errors.Is(err, ErrFormat) {
			t.Errorf("%q: expected ErrFormat, got %v", text, err)
		}
	}
}
