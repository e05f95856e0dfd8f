package extract

import (
	"fmt"

	"storeops/pkg/domain"
)

var schemas = map[domain.Category]string{
	domain.CategoryOrderRequest: `Extract order information. Return JSON format:
{
  "order_batch_id": "uuid-string",
  "vendor_groups": [
    {
      "vendor": "vendor-name",
      "items": [
        {"name": "item-name", "qty": number, "unit": "carton|pack|case|box"}
      ]
    }
  ]
}`,
	domain.CategoryInvoiceExpense: `Extract invoice/expense information. Return JSON format:
{
  "vendor": "vendor-name",
  "amount": number,
  "invoice_date": "YYYY-MM-DD",
  "invoice_number": "optional-number",
  "category": "category-name",
  "paid": "Y" or "N"
}`,
	domain.CategoryStoreSales: `Extract store sales information. Return JSON format:
{
  "date": "YYYY-MM-DD",
  "cash": number,
  "card": number,
  "tax": number,
  "total_inside": number
}`,
	domain.CategoryFuelSales: `Extract fuel sales information. Return JSON format:
{
  "date": "YYYY-MM-DD",
  "gallons": number,
  "fuel_sales": number,
  "fuel_gp": number
}`,
	domain.CategoryPaidOut: `Extract paid-out information. Return JSON format:
{
  "date": "YYYY-MM-DD",
  "amount": number,
  "reason": "reason-text",
  "employee": "employee-name"
}`,
}

// BuildPrompt is the user prompt for one extraction call.
func BuildPrompt(category domain.Category, text string) string {
	base := fmt.Sprintf("Extract structured data from this message. Return ONLY valid JSON, no other text.\n\nMessage: %q\n\n", text)
	if schema, ok := schemas[category]; ok {
		return base + schema
	}
	return base + "Extract any relevant structured data as JSON."
}
