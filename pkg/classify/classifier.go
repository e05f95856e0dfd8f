// Package classify assigns a business category to free-form message text.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"storeops/internal/util"
	"storeops/pkg/ai"
	"storeops/pkg/domain"
)

// RuleAcceptThreshold is the rule confidence at which the model fallback is skipped.
const RuleAcceptThreshold = 0.7

type rule struct {
	category   domain.Category
	confidence float64
	patterns   []*regexp.Regexp
}

// Rules are evaluated in order; the first category with a matching pattern wins.
var rules = []rule{
	{domain.CategoryOrderRequest, 0.8, compile(
		`\b(need|order|please get|out of|bring|restock)\b`,
		`\b(get|bring|deliver).*\b(carton|pack|case|box)\b`,
	)},
	{domain.CategoryInvoiceExpense, 0.75, compile(
		`\b(invoice|inv|paid|bill)\b`,
		`\b(vendor|supplier)\b`,
	)},
	{domain.CategoryStoreSales, 0.8, compile(
		`\b(sales|cash|card|close report|daily sales)\b`,
		`\b(total|inside sales)\b`,
	)},
	{domain.CategoryFuelSales, 0.85, compile(
		`\b(gallons|fuel|gas|pos fuel|fuel sales)\b`,
		`\b(fuel gp|fuel gross profit)\b`,
	)},
	{domain.CategoryPaidOut, 0.8, compile(
		`\b(paid out|payout|cash out|refund)\b`,
		`\b(cash.*out|money.*out)\b`,
	)},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// ClassifyByRules runs only the deterministic tier.
func ClassifyByRules(text string) domain.Classification {
	for _, r := range rules {
		for _, p := range r.patterns {
			if p.MatchString(text) {
				return domain.Classification{Category: r.category, Confidence: r.confidence, Source: domain.SourceRules}
			}
		}
	}
	return domain.Classification{Category: domain.CategoryUnknown, Confidence: 0, Source: domain.SourceNone}
}

// Classifier combines the rule tier with an optional generative fallback.
type Classifier struct {
	fallback ai.TextGenerator
}

// New builds a classifier. fallback may be nil, which disables the model tier.
func New(fallback ai.TextGenerator) *Classifier {
	return &Classifier{fallback: fallback}
}

// Classify returns the rule result when it reaches RuleAcceptThreshold. Below
// that, the model is consulted only when useFallback is set; otherwise, and on
// any model failure, the result is Unknown with confidence 0.
func (c *Classifier) Classify(ctx context.Context, text string, useFallback bool) domain.Classification {
	res := ClassifyByRules(text)
	if res.Confidence >= RuleAcceptThreshold {
		return res
	}
	unknown := domain.Classification{Category: domain.CategoryUnknown, Confidence: 0, Source: domain.SourceNone}
	if !useFallback || c.fallback == nil || strings.TrimSpace(text) == "" {
		return unknown
	}

	got, err := c.classifyWithModel(ctx, text)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("classifier fallback failed", "err", err)
		unknown.Degraded = &domain.Degradation{Stage: "classify", Reason: err.Error()}
		return unknown
	}
	return got
}

const fallbackSystemPrompt = `You classify short messages sent by convenience store staff.
Answer with JSON only: {"category": "<CATEGORY>", "confidence": <0..1>}.
CATEGORY is one of ORDER_REQUEST, STORE_SALES, FUEL_SALES, INVOICE_EXPENSE, PAID_OUT, UNKNOWN.`

func (c *Classifier) classifyWithModel(ctx context.Context, text string) (domain.Classification, error) {
	answer, err := c.fallback.GenerateText(ctx, fallbackSystemPrompt, "Message: "+text)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("generate: %w", err)
	}
	var parsed struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := ai.DecodeJSON(answer, &parsed); err != nil {
		return domain.Classification{}, err
	}
	category := domain.ParseCategory(parsed.Category)
	if category == domain.CategoryUnknown && !strings.EqualFold(strings.TrimSpace(parsed.Category), string(domain.CategoryUnknown)) {
		return domain.Classification{}, fmt.Errorf("model returned unsupported category %q", parsed.Category)
	}
	return domain.Classification{
		Category:   category,
		Confidence: clamp01(parsed.Confidence),
		Source:     domain.SourceModel,
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
