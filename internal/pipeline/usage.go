package pipeline

import "fm-serve/internal/models"

// UsageAccumulator tracks token accounting for one generation. Completion
// tokens count every engine increment, reasoning included; the channel split
// changes presentation, not the budget.
type UsageAccumulator struct {
	promptTokens     int
	cachedTokens     int
	completionTokens int
}

func NewUsageAccumulator(promptTokens, cachedTokens int) *UsageAccumulator {
	return &UsageAccumulator{promptTokens: promptTokens, cachedTokens: cachedTokens}
}

// CountIncrement records one generated token.
func (u *UsageAccumulator) CountIncrement() {
	u.completionTokens++
}

// CompletionTokens returns the tokens generated so far.
func (u *UsageAccumulator) CompletionTokens() int {
	return u.completionTokens
}

// Usage materializes the wire-level usage object.
func (u *UsageAccumulator) Usage() models.Usage {
	usage := models.Usage{
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		TotalTokens:      u.promptTokens + u.completionTokens,
	}
	if u.cachedTokens > 0 {
		usage.PromptTokensDetails = &models.PromptTokensDetails{CachedTokens: u.cachedTokens}
	}
	return usage
}
