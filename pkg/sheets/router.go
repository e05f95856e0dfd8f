package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storeops/internal/util"
	"storeops/pkg/domain"
)

// ReviewThreshold gates every write: records below it go to the review tab.
// It is unrelated to the classifier's acceptance threshold.
const ReviewThreshold = 0.7

const (
	TabOrdersRaw    = "Orders_Raw"
	TabOrderItems   = "Orders_Items"
	TabExpenses     = "Expenses_Invoices"
	TabStoreSales   = "Daily_Store_Sales"
	TabFuelSales    = "Daily_Fuel_Sales"
	TabPaidOuts     = "PaidOuts"
	TabNeedsReview  = "Needs_Review"
	sourceWhatsApp  = "WhatsApp"
	dateLayout      = "2006-01-02"
	monthLayout     = "2006-01"
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Record is one confirmed action ready to be written.
type Record struct {
	StoreID     string
	SheetID     string
	Category    domain.Category
	Fields      domain.Fields
	MessageID   string
	Confidence  float64
	MediaURL    string
	ConfirmedAt time.Time
}

// Router picks the destination tab for a record and lays out its rows.
type Router struct {
	sink Appender
}

func NewRouter(sink Appender) *Router {
	return &Router{sink: sink}
}

// Route names the tab a record is written to.
func Route(rec Record) string {
	if rec.Confidence < ReviewThreshold {
		return TabNeedsReview
	}
	switch rec.Fields.(type) {
	case *domain.OrderRequestFields:
		return TabOrdersRaw
	case *domain.InvoiceExpenseFields:
		return TabExpenses
	case *domain.StoreSalesFields:
		return TabStoreSales
	case *domain.FuelSalesFields:
		return TabFuelSales
	case *domain.PaidOutFields:
		return TabPaidOuts
	default:
		return TabNeedsReview
	}
}

// Write appends the record and returns the tab it went to.
func (r *Router) Write(ctx context.Context, rec Record) (string, error) {
	if r.sink == nil {
		return "", errors.New("sheets sink not configured")
	}
	if rec.Fields == nil {
		rec.Fields = domain.EmptyFields(rec.Category)
	}
	if rec.ConfirmedAt.IsZero() {
		rec.ConfirmedAt = time.Now()
	}
	tab := Route(rec)
	rows, err := buildRows(tab, rec)
	if err != nil {
		return "", err
	}
	if err := r.sink.AppendRows(ctx, rec.SheetID, tab, rows); err != nil {
		return tab, err
	}
	if order, ok := rec.Fields.(*domain.OrderRequestFields); ok && tab == TabOrdersRaw {
		if items := orderItemRows(rec, order); len(items) > 0 {
			if err := r.sink.AppendRows(ctx, rec.SheetID, TabOrderItems, items); err != nil {
				return tab, err
			}
		}
	}
	util.LoggerFromContext(ctx).Info("record written to sheet", "store_id", rec.StoreID, "tab", tab, "message_id", rec.MessageID)
	return tab, nil
}

func buildRows(tab string, rec Record) ([][]any, error) {
	today := rec.ConfirmedAt.Format(dateLayout)
	ts := rec.ConfirmedAt.UTC().Format(timestampLayout)

	switch f := rec.Fields.(type) {
	case *domain.InvoiceExpenseFields:
		if tab == TabExpenses {
			date := orDefault(f.InvoiceDate, today)
			paid := orDefault(f.Paid, "N")
			return [][]any{{date, monthOf(date, rec.ConfirmedAt), f.Vendor, f.Amount, f.InvoiceNumber, f.ExpenseType, paid, rec.MessageID, rec.MediaURL, sourceWhatsApp, ts}}, nil
		}
	case *domain.StoreSalesFields:
		if tab == TabStoreSales {
			date := orDefault(f.Date, today)
			return [][]any{{date, monthOf(date, rec.ConfirmedAt), f.Cash, f.Card, f.Tax, f.TotalInside, rec.MessageID, rec.MediaURL, sourceWhatsApp, ts}}, nil
		}
	case *domain.FuelSalesFields:
		if tab == TabFuelSales {
			date := orDefault(f.Date, today)
			return [][]any{{date, monthOf(date, rec.ConfirmedAt), f.Gallons, f.FuelSales, f.FuelGP, rec.MessageID, rec.MediaURL, sourceWhatsApp, ts}}, nil
		}
	case *domain.PaidOutFields:
		if tab == TabPaidOuts {
			date := orDefault(f.Date, today)
			return [][]any{{date, monthOf(date, rec.ConfirmedAt), f.Amount, f.Reason, f.Employee, rec.MessageID, rec.MediaURL, sourceWhatsApp, ts}}, nil
		}
	}

	data, err := domain.EncodeFields(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	month := rec.ConfirmedAt.Format(monthLayout)
	if tab == TabOrdersRaw {
		return [][]any{{today, month, rec.MessageID, string(data), rec.MediaURL, sourceWhatsApp, ts}}, nil
	}
	confidence := fmt.Sprintf("%g", rec.Confidence)
	return [][]any{{today, month, string(rec.Category), string(data), confidence, rec.MessageID, rec.MediaURL, sourceWhatsApp, ts}}, nil
}

func orderItemRows(rec Record, order *domain.OrderRequestFields) [][]any {
	today := rec.ConfirmedAt.Format(dateLayout)
	month := rec.ConfirmedAt.Format(monthLayout)
	var rows [][]any
	for _, g := range order.VendorGroups {
		for _, item := range g.Items {
			rows = append(rows, []any{today, month, order.OrderBatchID, g.Vendor, item.Name, item.Qty, item.Unit, rec.MessageID, sourceWhatsApp})
		}
	}
	return rows
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// monthOf derives YYYY-MM from a YYYY-MM-DD date, falling back to at's month.
func monthOf(date string, at time.Time) string {
	if t, err := time.Parse(dateLayout, date); err == nil {
		return t.Format(monthLayout)
	}
	return at.Format(monthLayout)
}
