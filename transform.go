package poingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/karlseguin/typed"
)

// Transformer flattens nested order objects into validated line-item records.
type Transformer struct{}

// Transform returns one Record per retained line item. An order without its
// primary identifier is dropped entirely; an item missing its line number or
// product id is dropped; all other items are retained even when secondary
// fields are null. Header-only rows are not emitted here.
func (t *Transformer) Transform(ctx context.Context, orders []typed.Typed) []Record {
	records := make([]Record, 0, len(orders))
	droppedOrders, droppedItems := 0, 0
	for _, order := range orders {
		poId := stringField(order, "purchase_order_id")
		if poId == "" {
			droppedOrders++
			continue
		}
		createdDate := parseDate(order["created_date"])
		status := stringField(order, "status")
		supplierId := stringField(order, "supplier_id")
		purchasingGroup := stringField(order, "purchasing_group")

		for _, item := range itemList(order) {
			lineNumber := stringField(item, "item_number")
			productId := stringField(item, "product_id")
			if lineNumber == "" || productId == "" {
				droppedItems++
				continue
			}
			rec := Record{
				PurchaseOrderId: poId,
				LineItemNumber:  lineNumber,
				CreatedDate:     createdDate,
				Status:          status,
				SupplierId:      supplierId,
				PurchasingGroup: purchasingGroup,
				Plant:           stringField(item, "plant"),
				ProductId:       productId,
				Description:     stringField(item, "description"),
				Quantity:        parseNumber(item["quantity"]),
				Unit:            stringField(item, "unit"),
				UnitPrice:       parseNumber(item["unit_price"]),
				NetValue:        parseNumber(item["net_value"]),
				MaterialGroup:   stringField(item, "material_group"),
			}
			rec.SourceHash = ComputeSourceHash(&rec)
			records = append(records, rec)
		}
	}
	if droppedOrders > 0 || droppedItems > 0 {
		DefaultLogger.Warn(ctx, "transform dropped invalid data, orders:%v, items:%v", droppedOrders, droppedItems)
	}
	return records
}

// ComputeSourceHash fingerprints the stable fields of a record: key identity
// plus the values whose change should trigger an update. Free-text fields
// (description) and other noisy attributes are deliberately excluded so
// incidental formatting churn upstream does not cause spurious writes.
func ComputeSourceHash(r *Record) string {
	parts := []string{
		r.PurchaseOrderId,
		r.LineItemNumber,
		r.ProductId,
		numberString(r.Quantity),
		numberString(r.UnitPrice),
		numberString(r.NetValue),
		r.SupplierId,
		dateString(r.CreatedDate),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// itemList tolerates both {"items": [...]} and the OData nesting
// {"items": {"results": [...]}}.
func itemList(order typed.Typed) []typed.Typed {
	raw, exists := order["items"]
	if !exists {
		return nil
	}
	var list []interface{}
	switch v := raw.(type) {
	case []interface{}:
		list = v
	case map[string]interface{}:
		if r, ok := v["results"].([]interface{}); ok {
			list = r
		}
	}
	items := make([]typed.Typed, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]interface{}); ok {
			items = append(items, typed.New(m))
		}
	}
	return items
}

// stringField renders a field as a string whatever the JSON type was.
// Upstream serializes identifiers inconsistently as strings or numbers.
func stringField(obj typed.Typed, key string) string {
	v, exists := obj[key]
	if !exists || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

// parseNumber coerces quantity/price values permissively: numbers pass
// through, strings are comma-stripped before parsing, anything unparsable
// becomes nil rather than failing the row.
func parseNumber(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate normalizes source timestamps to UTC instants. Returns nil when
// the value is absent or in no recognized layout.
func parseDate(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func numberString(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
