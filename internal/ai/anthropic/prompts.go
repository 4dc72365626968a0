package anthropic

import (
	"fmt"
	"strings"

	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/domain"
)

// buildCategorizationPrompt asks for a single category label for one photo.
func buildCategorizationPrompt() string {
	categories := make([]string, 0, len(domain.CategoryPriority))
	for _, c := range domain.CategoryPriority {
		categories = append(categories, string(c))
	}

	return fmt.Sprintf(`You are classifying a photograph from a used-vehicle inspection. Assign exactly one category from this list:

%s

Category guidance:
- "exterior": body panels, full side/front/rear shots, wheels, glass
- "interior": seats, carpets, headliner, door cards, cargo area
- "dashboard": instrument cluster, warning lights, infotainment, odometer
- "paint": close-ups of paint condition, scratches, overspray, panel gaps
- "rust": corrosion close-ups anywhere on the vehicle
- "engine": engine bay, fluids, belts, hoses
- "undercarriage": frame, suspension, exhaust, underbody shots
- "obd": OBD2 scanner screens or diagnostic readouts
- "title": title documents, registration paperwork
- "records": service records, receipts, window stickers

**Response Format:**
Return ONLY a JSON object with this exact structure:

{
  "category": "one of the categories above",
  "confidence": "high|medium|low"
}`, strings.Join(categories, ", "))
}

// buildChunkAnalysisPrompt creates the condition-assessment prompt for one
// category-bounded group of photos.
func buildChunkAnalysisPrompt(params ai.AnalyzeChunkParams) string {
	prompt := fmt.Sprintf(`You are an expert used-vehicle inspector assessing photographs from a pre-purchase inspection. All photos in this message belong to the "%s" area of the vehicle.

Vehicle under inspection:
- VIN: %s
- Odometer: %d miles`, params.Category, params.VIN, params.Mileage)

	if len(params.OBD2Codes) > 0 {
		prompt += fmt.Sprintf("\n- Reported OBD2 codes: %s", strings.Join(params.OBD2Codes, ", "))
	}

	prompt += `

Examine every photo and identify condition issues a buyer should know about:
- Body damage, previous repairs, mismatched paint, filler
- Corrosion and rust, especially structural
- Wear inconsistent with the stated mileage
- Leaks, worn consumables, deferred maintenance
- Warning lights or abnormal gauge readings
- Signs of flood, fire, or accident history

For each finding:
- Provide a clear, specific description
- Name the affected component (be descriptive)
- Assess your confidence level: "high" (90%+), "medium" (60-90%), or "low" (30-60%)
- Rate severity: "critical" (safety issue or imminent failure), "major" (expensive repair or strong negotiation point), "minor" (routine wear, cheap to address), "cosmetic" (appearance only)
- Suggest rough repair guidance where you can

**Important Guidelines:**
- Only report issues you can reasonably identify from the visible evidence
- Normal wear for the stated mileage is worth noting but rated accordingly
- If image quality prevents confident assessment, note it
- Do not speculate about areas not shown in these photos

**Response Format:**
Return your analysis as a JSON object with this exact structure:

{
  "findings": [
    {
      "description": "Detailed description of the issue",
      "component": "Affected part of the vehicle",
      "confidence": "high|medium|low",
      "severity": "critical|major|minor|cosmetic",
      "repair_hint": "Rough repair guidance"
    }
  ],
  "summary": "Overall condition assessment for this area of the vehicle",
  "image_quality_notes": "Any comments about image quality, visibility, or limitations in analysis"
}

**Important:** Return ONLY the JSON object, no additional text or explanation.`

	return prompt
}
