package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/usba/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// generator is the subset of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Timeouts bounds each call; Plan applies to GeneratePlan only.
type Timeouts struct {
	Default time.Duration
	Plan    time.Duration
}

// GeminiClient implements Gateway on the Gemini API.
type GeminiClient struct {
	gen      generator
	models   Models
	timeouts Timeouts
}

var _ Gateway = (*GeminiClient)(nil)

// NewGeminiClient creates a client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey string, models Models, timeouts Timeouts) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiClient(client.Models, models, timeouts), nil
}

func newGeminiClient(gen generator, models Models, timeouts Timeouts) *GeminiClient {
	if timeouts.Default <= 0 {
		timeouts.Default = 90 * time.Second
	}
	if timeouts.Plan <= 0 {
		timeouts.Plan = 180 * time.Second
	}
	return &GeminiClient{gen: gen, models: models, timeouts: timeouts}
}

func searchTools() []*genai.Tool {
	return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
}

func (c *GeminiClient) generate(ctx context.Context, op, model string, timeout time.Duration, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.gen.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		gerr := classify(op, err)
		slog.Warn("gemini call failed", "op", op, "model", model, "duration", time.Since(start), "error", err)
		return nil, "", gerr
	}
	text := responseText(resp)
	slog.Debug("gemini call completed", "op", op, "model", model, "duration", time.Since(start), "chars", len(text))
	if strings.TrimSpace(text) == "" {
		return resp, "", formatError(op, "empty response")
	}
	return resp, text, nil
}

func (c *GeminiClient) generateText(ctx context.Context, op, model, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	_, text, err := c.generate(ctx, op, model, c.timeouts.Default, genai.Text(prompt), cfg)
	return text, err
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// groundingSources lists web and maps references from the first candidate.
func groundingSources(resp *genai.GenerateContentResponse) []Source {
	sources := []Source{}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return sources
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		switch {
		case chunk == nil:
		case chunk.Web != nil && chunk.Web.URI != "":
			sources = append(sources, Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
		case chunk.Maps != nil && chunk.Maps.URI != "":
			sources = append(sources, Source{URI: chunk.Maps.URI, Title: chunk.Maps.Title})
		}
	}
	return sources
}

func imageContents(img Image, prompt string) ([]*genai.Content, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return nil, fmt.Errorf("unsupported image type %q", img.MIMEType)
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(img.Data, img.MIMEType),
		genai.NewPartFromText(prompt),
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func (c *GeminiClient) ResolveJurisdiction(ctx context.Context, lat, lon float64) (string, error) {
	const op = "resolve_jurisdiction"
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return "", &Error{Op: op, Kind: KindInvalidRequest, Err: fmt.Errorf("coordinates out of range: %f,%f", lat, lon)}
	}
	text, err := c.generateText(ctx, op, c.models.Fast, jurisdictionPrompt(lat, lon), nil)
	if err != nil {
		return "", err
	}
	return parseJurisdiction(op, text)
}

func (c *GeminiClient) ListCasinos(ctx context.Context, jurisdiction, preferenceHints string) ([]string, error) {
	const op = "list_casinos"
	text, err := c.generateText(ctx, op, c.models.Standard, casinoListPrompt(jurisdiction, preferenceHints),
		&genai.GenerateContentConfig{Tools: searchTools()})
	if err != nil {
		return nil, err
	}
	return parseNameList(op, text, true, maxCasinos)
}

func (c *GeminiClient) SearchCasino(ctx context.Context, jurisdiction, query string) ([]string, error) {
	const op = "search_casino"
	if strings.TrimSpace(query) == "" {
		return nil, &Error{Op: op, Kind: KindInvalidRequest, Err: fmt.Errorf("empty query")}
	}
	text, err := c.generateText(ctx, op, c.models.Standard, casinoSearchPrompt(jurisdiction, query),
		&genai.GenerateContentConfig{Tools: searchTools()})
	if err != nil {
		return nil, err
	}
	return parseNameList(op, text, false, 0)
}

func (c *GeminiClient) FetchRegionalAnalysis(ctx context.Context, jurisdiction string) (*RegionalAnalysis, error) {
	const op = "regional_analysis"
	resp, text, err := c.generate(ctx, op, c.models.Fast, c.timeouts.Default, genai.Text(regionalAnalysisPrompt(jurisdiction)),
		&genai.GenerateContentConfig{Tools: searchTools()})
	if err != nil {
		return nil, err
	}
	analysis, err := parseFreeText(op, text)
	if err != nil {
		return nil, err
	}
	return &RegionalAnalysis{Text: analysis, Sources: groundingSources(resp)}, nil
}

func (c *GeminiClient) GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	const op = "generate_plan"
	if err := req.Validate(); err != nil {
		return nil, &Error{Op: op, Kind: KindInvalidRequest, Err: err}
	}
	cfg := &genai.GenerateContentConfig{Tools: searchTools()}
	if c.models.PlannerThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(c.models.PlannerThinkingBudget)}
	}
	_, text, err := c.generate(ctx, op, c.models.Planner, c.timeouts.Plan, genai.Text(planPrompt(req)), cfg)
	if err != nil {
		return nil, err
	}
	return parsePlan(op, text, req)
}

func (c *GeminiClient) RefinePlanStage(ctx context.Context, stage domain.Stage, machineName string, currentBankroll decimal.Decimal) (string, error) {
	const op = "refine_stage"
	if strings.TrimSpace(machineName) == "" {
		return "", &Error{Op: op, Kind: KindInvalidRequest, Err: fmt.Errorf("empty machine name")}
	}
	text, err := c.generateText(ctx, op, c.models.Standard, refinePrompt(stage, machineName, currentBankroll),
		&genai.GenerateContentConfig{Tools: searchTools()})
	if err != nil {
		return "", err
	}
	return parseRefinement(op, text)
}

func (c *GeminiClient) AnalyzeImage(ctx context.Context, img Image) (*MachineData, error) {
	const op = "analyze_paytable"
	contents, err := imageContents(img, paytablePrompt)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindInvalidRequest, Err: err}
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"gameName":     {Type: genai.TypeString, Description: "The main title of the game."},
				"vendor":       {Type: genai.TypeString, Description: "The manufacturer or vendor (e.g., Aristocrat, IGT)."},
				"denomination": {Type: genai.TypeNumber, Description: "The primary denomination as a number (e.g., 0.01 for 1c)."},
				"maxBet":       {Type: genai.TypeNumber, Description: "The maximum bet amount as a number."},
			},
		},
	}
	_, text, err := c.generate(ctx, op, c.models.Standard, c.timeouts.Default, contents, cfg)
	if err != nil {
		return nil, err
	}
	return parseMachineData(op, text)
}

func (c *GeminiClient) IdentifyMachine(ctx context.Context, img Image) (string, error) {
	const op = "identify_machine"
	contents, err := imageContents(img, identifyPrompt)
	if err != nil {
		return "", &Error{Op: op, Kind: KindInvalidRequest, Err: err}
	}
	_, text, err := c.generate(ctx, op, c.models.Standard, c.timeouts.Default, contents, nil)
	if err != nil {
		return "", err
	}
	return parseFreeText(op, strings.Trim(strings.TrimSpace(text), `"`))
}

func (c *GeminiClient) ListMachines(ctx context.Context, casino string) ([]string, error) {
	const op = "list_machines"
	text, err := c.generateText(ctx, op, c.models.Standard, machineListPrompt(casino),
		&genai.GenerateContentConfig{Tools: searchTools()})
	if err != nil {
		return nil, err
	}
	return parseNameList(op, text, false, 10)
}

func (c *GeminiClient) DynamicInsight(ctx context.Context, s domain.Session) (string, error) {
	const op = "dynamic_insight"
	if len(s.Plan) == 0 {
		return "", &Error{Op: op, Kind: KindInvalidRequest, Err: fmt.Errorf("session has no plan")}
	}
	text, err := c.generateText(ctx, op, c.models.Standard, insightPrompt(s), nil)
	if err != nil {
		return "", err
	}
	return parseFreeText(op, text)
}

func (c *GeminiClient) CompStrategy(ctx context.Context, coinIn decimal.Decimal, tier string, pointsToNext int) (string, error) {
	const op = "comp_strategy"
	text, err := c.generateText(ctx, op, c.models.Standard, compStrategyPrompt(coinIn, tier, pointsToNext), nil)
	if err != nil {
		return "", err
	}
	return parseFreeText(op, text)
}
