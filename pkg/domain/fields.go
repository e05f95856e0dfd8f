package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrAmbiguousField = errors.New("ambiguous field")
)

// Fields is the structured payload of an extraction or pending action.
// Each category has its own variant; RawFields carries anything else.
type Fields interface {
	Category() Category
	// Set applies a user correction. Numeric fields are coerced with ParseNumber.
	Set(field, value string) error
	// Names lists the fields that Set accepts.
	Names() []string
}

var numericFields = map[string]bool{
	"amount":       true,
	"cash":         true,
	"card":         true,
	"tax":          true,
	"total_inside": true,
	"gallons":      true,
	"fuel_sales":   true,
	"fuel_gp":      true,
	"qty":          true,
}

// IsNumericField reports whether corrections to name are coerced to numbers.
func IsNumericField(name string) bool {
	return numericFields[strings.ToLower(strings.TrimSpace(name))]
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseNumber reads the leading number of s ("1,260.50 dollars" -> 1260.5).
// Input without a leading number yields 0.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	match := leadingNumber.FindString(s)
	if match == "" {
		return 0
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return n
}

type OrderItem struct {
	Name string  `json:"name"`
	Qty  float64 `json:"qty"`
	Unit string  `json:"unit,omitempty"`
}

type VendorGroup struct {
	Vendor string      `json:"vendor"`
	Items  []OrderItem `json:"items"`
}

type OrderRequestFields struct {
	OrderBatchID string        `json:"order_batch_id"`
	VendorGroups []VendorGroup `json:"vendor_groups"`
}

func (f *OrderRequestFields) Category() Category { return CategoryOrderRequest }

func (f *OrderRequestFields) Names() []string {
	return []string{"order_batch_id", "vendor", "item", "qty", "unit"}
}

// ItemCount is the number of line items across all vendors.
func (f *OrderRequestFields) ItemCount() int {
	n := 0
	for _, g := range f.VendorGroups {
		n += len(g.Items)
	}
	return n
}

// Group returns the vendor group matching vendor, case-insensitively.
func (f *OrderRequestFields) Group(vendor string) (VendorGroup, bool) {
	for _, g := range f.VendorGroups {
		if strings.EqualFold(strings.TrimSpace(g.Vendor), strings.TrimSpace(vendor)) {
			return g, true
		}
	}
	return VendorGroup{}, false
}

// Set edits order-level values. Item corrections only apply to single-item orders.
func (f *OrderRequestFields) Set(field, value string) error {
	switch field {
	case "order_batch_id":
		f.OrderBatchID = value
	case "vendor":
		switch len(f.VendorGroups) {
		case 0:
			f.VendorGroups = []VendorGroup{{Vendor: value}}
		case 1:
			f.VendorGroups[0].Vendor = value
		default:
			return fmt.Errorf("%w %q: order has %d vendors", ErrAmbiguousField, field, len(f.VendorGroups))
		}
	case "item", "name", "qty", "unit":
		item, err := f.singleItem(field)
		if err != nil {
			return err
		}
		switch field {
		case "qty":
			item.Qty = ParseNumber(value)
		case "unit":
			item.Unit = value
		default:
			item.Name = value
		}
	default:
		return unknownField(field, f)
	}
	return nil
}

func (f *OrderRequestFields) singleItem(field string) (*OrderItem, error) {
	if n := f.ItemCount(); n != 1 {
		return nil, fmt.Errorf("%w %q: order has %d items", ErrAmbiguousField, field, n)
	}
	for gi := range f.VendorGroups {
		if len(f.VendorGroups[gi].Items) == 1 {
			return &f.VendorGroups[gi].Items[0], nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrAmbiguousField, field)
}

type InvoiceExpenseFields struct {
	Vendor        string  `json:"vendor"`
	Amount        float64 `json:"amount"`
	InvoiceDate   string  `json:"invoice_date,omitempty"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	ExpenseType   string  `json:"category,omitempty"`
	Paid          string  `json:"paid,omitempty"`
}

func (f *InvoiceExpenseFields) Category() Category { return CategoryInvoiceExpense }

func (f *InvoiceExpenseFields) Names() []string {
	return []string{"vendor", "amount", "invoice_date", "invoice_number", "category", "paid"}
}

func (f *InvoiceExpenseFields) Set(field, value string) error {
	switch field {
	case "vendor":
		f.Vendor = value
	case "amount":
		f.Amount = ParseNumber(value)
	case "invoice_date", "date":
		f.InvoiceDate = value
	case "invoice_number":
		f.InvoiceNumber = value
	case "category":
		f.ExpenseType = value
	case "paid":
		f.Paid = normalizePaid(value)
	default:
		return unknownField(field, f)
	}
	return nil
}

func normalizePaid(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "y", "yes", "true", "paid":
		return "Y"
	default:
		return "N"
	}
}

type StoreSalesFields struct {
	Date        string  `json:"date,omitempty"`
	Cash        float64 `json:"cash"`
	Card        float64 `json:"card"`
	Tax         float64 `json:"tax"`
	TotalInside float64 `json:"total_inside"`
}

func (f *StoreSalesFields) Category() Category { return CategoryStoreSales }

func (f *StoreSalesFields) Names() []string {
	return []string{"date", "cash", "card", "tax", "total_inside"}
}

func (f *StoreSalesFields) Set(field, value string) error {
	switch field {
	case "date":
		f.Date = value
	case "cash":
		f.Cash = ParseNumber(value)
	case "card":
		f.Card = ParseNumber(value)
	case "tax":
		f.Tax = ParseNumber(value)
	case "total_inside":
		f.TotalInside = ParseNumber(value)
	default:
		return unknownField(field, f)
	}
	return nil
}

type FuelSalesFields struct {
	Date      string  `json:"date,omitempty"`
	Gallons   float64 `json:"gallons"`
	FuelSales float64 `json:"fuel_sales"`
	FuelGP    float64 `json:"fuel_gp"`
}

func (f *FuelSalesFields) Category() Category { return CategoryFuelSales }

func (f *FuelSalesFields) Names() []string {
	return []string{"date", "gallons", "fuel_sales", "fuel_gp"}
}

func (f *FuelSalesFields) Set(field, value string) error {
	switch field {
	case "date":
		f.Date = value
	case "gallons":
		f.Gallons = ParseNumber(value)
	case "fuel_sales":
		f.FuelSales = ParseNumber(value)
	case "fuel_gp":
		f.FuelGP = ParseNumber(value)
	default:
		return unknownField(field, f)
	}
	return nil
}

type PaidOutFields struct {
	Date     string  `json:"date,omitempty"`
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason,omitempty"`
	Employee string  `json:"employee,omitempty"`
}

func (f *PaidOutFields) Category() Category { return CategoryPaidOut }

func (f *PaidOutFields) Names() []string {
	return []string{"date", "amount", "reason", "employee"}
}

func (f *PaidOutFields) Set(field, value string) error {
	switch field {
	case "date":
		f.Date = value
	case "amount":
		f.Amount = ParseNumber(value)
	case "reason":
		f.Reason = value
	case "employee":
		f.Employee = value
	default:
		return unknownField(field, f)
	}
	return nil
}

// RawFields holds values that did not fit a known category, including the
// empty result of a failed extraction.
type RawFields map[string]any

func (f RawFields) Category() Category { return CategoryUnknown }

func (f RawFields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (f RawFields) Set(field, value string) error {
	if f == nil {
		return fmt.Errorf("%w %q", ErrUnknownField, field)
	}
	if IsNumericField(field) {
		f[field] = ParseNumber(value)
		return nil
	}
	f[field] = value
	return nil
}

func unknownField(field string, f Fields) error {
	return fmt.Errorf("%w %q for %s (fields: %s)", ErrUnknownField, field, f.Category().Label(), strings.Join(f.Names(), ", "))
}

// NormalizeFields converts RawFields into category's typed variant, so every
// store hands back the same shape for a degraded extraction.
func NormalizeFields(category Category, f Fields) Fields {
	raw, ok := f.(RawFields)
	if !ok || category == CategoryUnknown {
		return f
	}
	return FieldsFromMap(category, map[string]any(raw))
}

// EmptyFields returns the zero variant for category.
func EmptyFields(category Category) Fields {
	switch category {
	case CategoryOrderRequest:
		return &OrderRequestFields{}
	case CategoryStoreSales:
		return &StoreSalesFields{}
	case CategoryFuelSales:
		return &FuelSalesFields{}
	case CategoryInvoiceExpense:
		return &InvoiceExpenseFields{}
	case CategoryPaidOut:
		return &PaidOutFields{}
	default:
		return RawFields{}
	}
}

// FieldsFromMap converts loosely typed model output into the category's variant.
// Numbers given as strings are parsed; missing values stay zero.
func FieldsFromMap(category Category, m map[string]any) Fields {
	switch category {
	case CategoryOrderRequest:
		f := &OrderRequestFields{OrderBatchID: stringOf(m["order_batch_id"])}
		groups, _ := m["vendor_groups"].([]any)
		for _, g := range groups {
			gm, ok := g.(map[string]any)
			if !ok {
				continue
			}
			group := VendorGroup{Vendor: stringOf(gm["vendor"])}
			items, _ := gm["items"].([]any)
			for _, it := range items {
				im, ok := it.(map[string]any)
				if !ok {
					continue
				}
				group.Items = append(group.Items, OrderItem{
					Name: stringOf(im["name"]),
					Qty:  numberOf(im["qty"]),
					Unit: stringOf(im["unit"]),
				})
			}
			f.VendorGroups = append(f.VendorGroups, group)
		}
		return f
	case CategoryStoreSales:
		return &StoreSalesFields{
			Date:        stringOf(m["date"]),
			Cash:        numberOf(m["cash"]),
			Card:        numberOf(m["card"]),
			Tax:         numberOf(m["tax"]),
			TotalInside: numberOf(m["total_inside"]),
		}
	case CategoryFuelSales:
		return &FuelSalesFields{
			Date:      stringOf(m["date"]),
			Gallons:   numberOf(m["gallons"]),
			FuelSales: numberOf(m["fuel_sales"]),
			FuelGP:    numberOf(m["fuel_gp"]),
		}
	case CategoryInvoiceExpense:
		f := &InvoiceExpenseFields{
			Vendor:        stringOf(m["vendor"]),
			Amount:        numberOf(m["amount"]),
			InvoiceDate:   stringOf(m["invoice_date"]),
			InvoiceNumber: stringOf(m["invoice_number"]),
			ExpenseType:   stringOf(m["category"]),
		}
		if paid := stringOf(m["paid"]); paid != "" {
			f.Paid = normalizePaid(paid)
		}
		return f
	case CategoryPaidOut:
		return &PaidOutFields{
			Date:     stringOf(m["date"]),
			Amount:   numberOf(m["amount"]),
			Reason:   stringOf(m["reason"]),
			Employee: stringOf(m["employee"]),
		}
	default:
		raw := RawFields{}
		for k, v := range m {
			raw[k] = v
		}
		return raw
	}
}

// EncodeFields serializes fields for storage.
func EncodeFields(f Fields) ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// DecodeFields restores fields stored by EncodeFields.
func DecodeFields(category Category, data []byte) (Fields, error) {
	if len(data) == 0 || string(data) == "null" {
		return EmptyFields(category), nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", category, err)
	}
	return FieldsFromMap(category, m), nil
}

// CloneFields returns a deep copy so callers can edit without aliasing stored state.
func CloneFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	data, err := EncodeFields(f)
	if err != nil {
		return f
	}
	out, err := DecodeFields(f.Category(), data)
	if err != nil {
		return f
	}
	return out
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func numberOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		n, _ := t.Float64()
		return n
	case string:
		return ParseNumber(t)
	default:
		return 0
	}
}
