package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storeops/internal/util"
	"storeops/pkg/domain"
)

type period int

const (
	periodToday period = iota
	periodWeek
	periodMonth
)

const insightSystemPrompt = "You are a retail operations analyst for a convenience store. " +
	"Given a period report, reply with one short sentence of practical insight. No preamble, no lists."

const maxInsightLen = 280

// periodTotals aggregates confirmed actions by category.
type periodTotals struct {
	entries     int
	salesDays   int
	insideSales float64
	fuelDays    int
	gallons     float64
	fuelSales   float64
	invoices    int
	expenses    float64
	paidOutN    int
	paidOuts    float64
	orders      int
}

func summarize(actions []domain.PendingAction) periodTotals {
	var t periodTotals
	t.entries = len(actions)
	for _, a := range actions {
		switch f := a.Fields.(type) {
		case *domain.StoreSalesFields:
			t.salesDays++
			if f.TotalInside > 0 {
				t.insideSales += f.TotalInside
			} else {
				t.insideSales += f.Cash + f.Card
			}
		case *domain.FuelSalesFields:
			t.fuelDays++
			t.gallons += f.Gallons
			t.fuelSales += f.FuelSales
		case *domain.InvoiceExpenseFields:
			t.invoices++
			t.expenses += f.Amount
		case *domain.PaidOutFields:
			t.paidOutN++
			t.paidOuts += f.Amount
		case *domain.OrderRequestFields:
			t.orders++
		}
	}
	return t
}

func (t periodTotals) lines() []string {
	var out []string
	if t.salesDays > 0 {
		out = append(out, "💰 Inside sales: $"+amount(t.insideSales))
	}
	if t.fuelDays > 0 {
		out = append(out, fmt.Sprintf("⛽ Fuel: %s gal, $%s", amount(t.gallons), amount(t.fuelSales)))
	}
	if t.invoices > 0 {
		out = append(out, fmt.Sprintf("🧾 Invoices: %d, $%s", t.invoices, amount(t.expenses)))
	}
	if t.paidOutN > 0 {
		out = append(out, fmt.Sprintf("💸 Paid outs: %d, $%s", t.paidOutN, amount(t.paidOuts)))
	}
	if t.orders > 0 {
		out = append(out, fmt.Sprintf("📦 Orders: %d", t.orders))
	}
	return out
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// periodRange returns [from, to) and the report title. A zero month means the current one.
func (a *App) periodRange(p period, month time.Time) (time.Time, time.Time, string) {
	now := a.now().In(a.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.location)
	switch p {
	case periodWeek:
		from := today.AddDate(0, 0, -int(today.Weekday()))
		return from, from.AddDate(0, 0, 7), "📊 This Week:"
	case periodMonth:
		if month.IsZero() {
			month = now
		}
		from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, a.location)
		return from, from.AddDate(0, 1, 0), "📊 " + from.Format("January 2006") + ":"
	default:
		return today, today.AddDate(0, 0, 1), "📊 Today (" + today.Format("Jan 02, 2006") + "):"
	}
}

func (a *App) periodSummary(ctx context.Context, senderID string, p period, month time.Time) (string, error) {
	binding, found, err := a.store.GetBinding(ctx, senderID)
	if err != nil {
		return "", fmt.Errorf("lookup binding: %w", err)
	}
	if !found || strings.TrimSpace(binding.StoreID) == "" {
		return replyStoreNotLinked, nil
	}
	from, to, title := a.periodRange(p, month)
	actions, err := a.store.ListActionsByStore(ctx, binding.StoreID, domain.PendingStatusConfirmed, from, to)
	if err != nil {
		return "", fmt.Errorf("list confirmed actions: %w", err)
	}
	totals := summarize(actions)

	var b strings.Builder
	b.WriteString(title)
	fmt.Fprintf(&b, "\n%d entries confirmed", totals.entries)
	for _, line := range totals.lines() {
		b.WriteString("\n" + line)
	}
	if totals.entries > 0 {
		if insight := a.insight(ctx, b.String()); insight != "" {
			b.WriteString("\n💡 " + insight)
		}
	}
	if p == periodToday {
		b.WriteString("\n\nReply MONTH YYYY-MM for monthly summary.")
	}
	return b.String(), nil
}

// insight asks the optional generator for a one-line remark. Failures only drop the line.
func (a *App) insight(ctx context.Context, report string) string {
	if a.insights == nil {
		return ""
	}
	answer, err := a.insights.GenerateText(ctx, insightSystemPrompt, report)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("summary insight skipped", "err", err)
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(answer), "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > maxInsightLen {
		line = string(r[:maxInsightLen])
	}
	return line
}
