package llm

import "strings"

// price is USD per 1K tokens.
type price struct {
	input  float64
	output float64
}

// Matched by longest model-name prefix.
var prices = map[string]price{
	"gemini-2.5-pro":    {0.00125, 0.01},
	"gemini-2.5-flash":  {0.0003, 0.0025},
	"gemini-2.0-flash":  {0.0001, 0.0004},
	"gpt-4o-mini":       {0.00015, 0.0006},
	"gpt-4o":            {0.0025, 0.01},
	"gpt-4":             {0.03, 0.06},
	"claude-3-5-haiku":  {0.0008, 0.004},
	"claude-3-5-sonnet": {0.003, 0.015},
	"claude-sonnet":     {0.003, 0.015},
	"claude-opus":       {0.015, 0.075},
}

// EstimateCost returns the approximate USD cost of a completion. Unknown
// models cost zero.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var best string
	for prefix := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	p := prices[best]
	return float64(inputTokens)/1000*p.input + float64(outputTokens)/1000*p.output
}
