package protocol

import "testing"

func TestUsageSummation(t *testing.T) {
	a := &UsageStats{InputTokens: 10, OutputTokens: 5, CostUSD: 0.1, ContextWindow: 100}
	b := &UsageStats{InputTokens: 3, OutputTokens: 7, CacheReadTokens: 20, CostUSD: 0.2}
	c := &UsageStats{OutputTokens: 1, ReasoningTokens: 4, CostUSD: 0.05, ContextWindow: 200}

	t.Run("Commutative", func(t *testing.T) {
		x := SumUsage(a, b, c)
		y := SumUsage(c, a, b)
		if x.TotalTokens() != y.TotalTokens() {
			t.Errorf("token totals differ across orderings: %d vs %d", x.TotalTokens(), y.TotalTokens())
		}
		if x.CostUSD != y.CostUSD {
			t.Errorf("cost differs across orderings: %f vs %f", x.CostUSD, y.CostUSD)
		}
	})

	t.Run("Associative", func(t *testing.T) {
		left := SumUsage(SumUsage(a, b), c)
		right := SumUsage(a, SumUsage(b, c))
		if left.InputTokens != right.InputTokens ||
			left.OutputTokens != right.OutputTokens ||
			left.CacheReadTokens != right.CacheReadTokens ||
			left.ReasoningTokens != right.ReasoningTokens {
			t.Errorf("groupings disagree: %+v vs %+v", left, right)
		}
	})

	t.Run("Totals", func(t *testing.T) {
		total := SumUsage(a, b, c)
		if total.InputTokens != 13 {
			t.Errorf("expected 13 input tokens, got %d", total.InputTokens)
		}
		if total.OutputTokens != 13 {
			t.Errorf("expected 13 output tokens, got %d", total.OutputTokens)
		}
		if total.TotalTokens() != 50 {
			t.Errorf("expected 50 total tokens, got %d", total.TotalTokens())
		}
	})

	t.Run("NilPartsIgnored", func(t *testing.T) {
		total := SumUsage(a, nil, b)
		if total.InputTokens != 13 {
			t.Errorf("expected nil parts skipped, got %d input tokens", total.InputTokens)
		}
	})

	t.Run("ContextWindowLatestNonZeroWins", func(t *testing.T) {
		total := SumUsage(a, b, c)
		if total.ContextWindow != 200 {
			t.Errorf("expected latest non-zero window 200, got %d", total.ContextWindow)
		}
		total = SumUsage(c, b)
		if total.ContextWindow != 200 {
			t.Errorf("expected window 200 preserved past zero entries, got %d", total.ContextWindow)
		}
	})
}
