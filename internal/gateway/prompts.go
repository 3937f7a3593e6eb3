package gateway

import (
	"fmt"
	"strings"

	"github.com/ashureev/usba/internal/domain"
	"github.com/shopspring/decimal"
)

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func jurisdictionPrompt(lat, lon float64) string {
	return fmt.Sprintf(`Based on the coordinates latitude: %.6f and longitude: %.6f, identify the US state or major gaming jurisdiction (for example "Nevada", "New Jersey", "Mississippi", "California"). Return only the name of the jurisdiction.`, lat, lon)
}

func casinoListPrompt(jurisdiction, hints string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Using Google Search, find a list of up to %d casinos in the %q gaming jurisdiction. ", maxCasinos, jurisdiction)
	b.WriteString("Include major resorts, local casino hotels and tribal casinos. ")
	if hints = strings.TrimSpace(hints); hints != "" {
		fmt.Fprintf(&b, "Prefer locations known for slot machines with features like %q. ", hints)
	}
	b.WriteString(`Return ONLY a JSON array of strings with the casino names, sorted alphabetically. Example: ["Casino Name 1", "Another Casino Resort"]`)
	return b.String()
}

func casinoSearchPrompt(jurisdiction, query string) string {
	return fmt.Sprintf(`Using Google Search, find casinos in %q that match the search query %q. Return ONLY a JSON array of strings with the casino names.`, jurisdiction, query)
}

func regionalAnalysisPrompt(jurisdiction string) string {
	return fmt.Sprintf("Provide a brief analysis of the typical slot machine payback percentages (RTP) in the %s gaming jurisdiction, using the latest information from web searches. Include any publicly available data or regulations from the gaming commission.", jurisdiction)
}

func planPrompt(req PlanRequest) string {
	var b strings.Builder
	b.WriteString("You are a slot session planner focused on bankroll discipline. Slot outcomes are random and the house edge is fixed; no plan changes the odds. Your job is to structure a session that limits losses and stops on a win.\n\n")
	fmt.Fprintf(&b, "The player is at %q in the %q jurisdiction with a cash bankroll of %s and a target of %s.\n", req.Casino, req.Jurisdiction, money(req.Bankroll), money(req.Goal))
	if req.FreePlay.IsPositive() {
		fmt.Fprintf(&b, "The player has %s in free play. Stage 1 must use only the free play, with a bet size that spreads it over many spins, and must say how to handle any cash needed to activate it.\n", money(req.FreePlay))
	}
	if req.Strategy != StrategyNone {
		fmt.Fprintf(&b, "The player prefers a %s betting style. Use it only where it stays inside each stage's stop-loss.\n", req.Strategy)
	}
	b.WriteString(`
Produce:
1. "likelihood": your honest estimate, as a percentage from 0 to 100, that the player reaches the target before losing the bankroll, given typical slot return-to-player figures for this jurisdiction.
2. "analysis": a short, plain-language briefing that states the risk clearly.
3. "plan": an array of 2 to 4 stages. Each stage object has:
   - "stage": the stage number
   - "gameName": a real slot title likely to be available at the casino or in the region, found via web search
   - "betStrategy": how much of the bankroll to allocate and the bet per spin
   - "reasoning": one sentence explaining the choice
   - "objective": what the stage is meant to achieve
   - "stopLoss" and "winGoal": absolute bankroll amounts (numbers greater than zero) at which to stop the stage
   - "timeLimitMinutes": an integer time limit for the stage
   - "contingencyPlan": what to do when the time limit is reached

Return a single top-level JSON object with the keys "likelihood" (a number), "analysis" (a string) and "plan" (an array). Return only the raw JSON object without markdown.`)
	return b.String()
}

func refinePrompt(stage domain.Stage, machineName string, bankroll decimal.Decimal) string {
	return fmt.Sprintf(`The player is following a staged slot plan and has sat down at a specific machine.

Current status: stage %d, bankroll %s, stop-loss %s, win goal %s.
Planned game: %q.
Machine now being played: %q.

Use a web search to check the characteristics of %q (volatility, bonus features, bet structure). Keep the stage's stop-loss and win goal unchanged and write an updated bet strategy for this machine that stays within them.

Return ONLY a single JSON object with one key: "refinedBetStrategy".`,
		stage.Stage, money(bankroll), money(stage.StopLoss), money(stage.WinGoal), stage.GameName, machineName, machineName)
}

const paytablePrompt = "Analyze this image of a slot machine's paytable or screen. Extract the game's title, its manufacturer or vendor if visible, the primary denomination as a number, and the maximum bet amount as a number."

const identifyPrompt = "Analyze this image of a slot machine. Identify the main game title displayed on the screen or cabinet. Return ONLY the game title as a single string."

func machineListPrompt(casino string) string {
	return fmt.Sprintf(`Using Google Search, find a list of 5 to 10 popular, real slot machine game titles available at %q. Use the casino's official website or recent player reports if possible. Return ONLY a JSON array of strings with the game names. Example: ["Buffalo Grand", "Dragon Link", "Wheel of Fortune 4D"]`, casino)
}

func insightPrompt(s domain.Session) string {
	m := domain.Summarize(s)
	stageNo := 0
	if st, ok := s.CurrentStage(); ok {
		stageNo = st.Stage
	}
	return fmt.Sprintf(`Provide a concise insight for a player in the middle of a slot session.

Snapshot: initial bankroll %s, current bankroll %s, goal %s, stage %d of %d, net %s over %d spins, per-spin standard deviation %.2f, stage status %s.

Write 1 to 2 sentences. Be direct about risk and remind the player of the stage limits when they are close. Return only the insight as plain text.`,
		money(s.Bankroll), money(m.CurrentBankroll), money(s.Goal), stageNo, len(s.Plan),
		money(m.TotalNet), m.SpinCount, m.Stats.StdDevNet, m.StageStatus)
}

func compStrategyPrompt(coinIn decimal.Decimal, tier string, pointsToNext int) string {
	if tier = strings.TrimSpace(tier); tier == "" {
		tier = "N/A"
	}
	points := "N/A"
	if pointsToNext > 0 {
		points = fmt.Sprint(pointsToNext)
	}
	return fmt.Sprintf(`Provide a concise strategy for getting value from a casino loyalty program.

Player status: session coin-in %s, tier %s, points to next tier %s.

Write 1 to 3 sentences. Do not suggest increasing play beyond the player's planned budget. Return only the strategy as plain text.`, money(coinIn), tier, points)
}
