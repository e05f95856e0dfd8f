package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storeops/pkg/domain"
)

const (
	UnlinkedMessage     = "📱 Store not linked.\n\nReply STORE S001 to link your number to a store."
	UnclassifiedMessage = "❓ Could not classify message. Please try again with clearer details."

	commandMenu = "Reply:\n✅ OK - Confirm\n❌ CANCEL - Reject\n🔧 FIX <field> <value> - Correct field\n\nExample: FIX amount 1260"
)

const HelpText = `📱 Available Commands:

✅ OK - Confirm latest entry
❌ CANCEL - Cancel latest entry
🔧 FIX <field> <value> - Correct a field
📋 STATUS - View latest entry status
📊 TODAY - Today's summary
📅 WEEK - This week's summary
📆 MONTH YYYY-MM - Monthly summary
📤 SEND <vendor> - Send order to vendor
🏪 STORE S001 - Link to store
❓ HELP - Show this help

Examples:
FIX amount 1260
FIX vendor Pepsi
MONTH 2026-01`

// ConfirmationPrompt appends the OK/CANCEL/FIX menu to summary.
func ConfirmationPrompt(summary string) string {
	return summary + "\n\n" + commandMenu
}

// DetectedSummary announces a freshly extracted record.
func DetectedSummary(fields domain.Fields) string {
	switch f := fields.(type) {
	case *domain.OrderRequestFields:
		return fmt.Sprintf("📦 Order Request Detected\n\n%d vendor(s), %d item(s)", len(f.VendorGroups), f.ItemCount())
	case *domain.InvoiceExpenseFields:
		return fmt.Sprintf("🧾 Invoice/Expense Detected\n\nVendor: %s\nAmount: $%s\nDate: %s", orNA(f.Vendor), money(f.Amount), orNA(f.InvoiceDate))
	case *domain.StoreSalesFields:
		return fmt.Sprintf("💰 Store Sales Detected\n\nCash: $%s\nCard: $%s\nTax: $%s\nTotal: $%s", money(f.Cash), money(f.Card), money(f.Tax), money(f.TotalInside))
	case *domain.FuelSalesFields:
		return fmt.Sprintf("⛽ Fuel Sales Detected\n\nGallons: %s\nSales: $%s\nGP: $%s", money(f.Gallons), money(f.FuelSales), money(f.FuelGP))
	case *domain.PaidOutFields:
		return fmt.Sprintf("💸 Paid Out Detected\n\nAmount: $%s\nReason: %s\nEmployee: %s", money(f.Amount), orNA(f.Reason), orNA(f.Employee))
	default:
		return "📋 Entry Detected\n\n" + rawJSON(fields)
	}
}

// PendingSummary is the compact form used by STATUS and FIX replies.
func PendingSummary(fields domain.Fields) string {
	switch f := fields.(type) {
	case *domain.OrderRequestFields:
		lines := []string{"Order Request"}
		for _, g := range f.VendorGroups {
			lines = append(lines, fmt.Sprintf("- %s: %d items", g.Vendor, len(g.Items)))
		}
		return strings.Join(lines, "\n")
	case *domain.InvoiceExpenseFields:
		return fmt.Sprintf("Invoice/Expense\nVendor: %s\nAmount: $%s\nDate: %s", orNA(f.Vendor), money(f.Amount), orNA(f.InvoiceDate))
	case *domain.StoreSalesFields:
		return fmt.Sprintf("Store Sales\nCash: $%s\nCard: $%s\nTotal: $%s", money(f.Cash), money(f.Card), money(f.TotalInside))
	case *domain.FuelSalesFields:
		return fmt.Sprintf("Fuel Sales\nGallons: %s\nSales: $%s\nGP: $%s", money(f.Gallons), money(f.FuelSales), money(f.FuelGP))
	case *domain.PaidOutFields:
		return fmt.Sprintf("Paid Out\nAmount: $%s\nReason: %s\nEmployee: %s", money(f.Amount), orNA(f.Reason), orNA(f.Employee))
	default:
		return rawJSON(fields)
	}
}

// StatusMessage reports a pending action without prompting a new action.
func StatusMessage(action domain.PendingAction) string {
	return fmt.Sprintf("📋 Status:\n\n%s\n\nConfidence: %.0f%%\n\nReply OK to confirm, FIX to correct, or CANCEL to reject.",
		PendingSummary(action.Fields), action.Confidence*100)
}

// FixUpdatedMessage echoes the record after a FIX.
func FixUpdatedMessage(fields domain.Fields) string {
	return ConfirmationPrompt("🔧 Updated:\n\n" + PendingSummary(fields))
}

// VendorOrderMessage is the order text sent to a vendor contact.
func VendorOrderMessage(storeName, batchID string, group domain.VendorGroup) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 New order from %s\n", storeName)
	if batchID != "" {
		fmt.Fprintf(&b, "Ref: %s\n", batchID)
	}
	b.WriteString("\n")
	for _, item := range group.Items {
		line := fmt.Sprintf("- %s x %s", item.Name, money(item.Qty))
		if item.Unit != "" {
			line += " " + item.Unit
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func rawJSON(fields domain.Fields) string {
	if fields == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
