package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"lostnfound-shop/internal/apperr"
)

// Entry is one sellable product. Prices are minor currency units (cents)
// and are authoritative: client-submitted prices are never consulted.
type Entry struct {
	Code      string `json:"product_code"`
	Name      string `json:"display_name"`
	UnitPrice int64  `json:"unit_price"`
}

// LineItem is a priced basket line, snapshotted at pricing time.
type LineItem struct {
	ProductCode string
	DisplayName string
	UnitPrice   int64
	Quantity    int32
	LineTotal   int64
}

// BasketLine is a raw client-submitted line before pricing.
type BasketLine struct {
	ProductCode string `json:"product_code"`
	Quantity    int32  `json:"qty"`
}

// Catalog is an immutable product mapping built once at startup.
type Catalog struct {
	entries map[string]Entry
}

func New(entries ...Entry) *Catalog {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Code] = e
	}
	return &Catalog{entries: m}
}

// Default returns the shop's merchandise catalog.
func Default() *Catalog {
	return New(
		Entry{Code: "mug", Name: "Lost&Found Mug", UnitPrice: 1200},
		Entry{Code: "shirt", Name: "Lost&Found Shirt", UnitPrice: 2000},
		Entry{Code: "cap", Name: "Lost&Found Cap", UnitPrice: 1500},
	)
}

// Entries returns the catalog contents sorted by product code.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Price validates one basket line against the catalog and snapshots it.
func (c *Catalog) Price(code string, qty int32) (LineItem, error) {
	if qty < 1 {
		return LineItem{}, apperr.Validation("quantity must be positive, got %d", qty)
	}
	entry, ok := c.entries[strings.TrimSpace(code)]
	if !ok {
		return LineItem{}, apperr.Validation("unknown product code: %s", code)
	}
	return LineItem{
		ProductCode: entry.Code,
		DisplayName: entry.Name,
		UnitPrice:   entry.UnitPrice,
		Quantity:    qty,
		LineTotal:   entry.UnitPrice * int64(qty),
	}, nil
}

// PriceBasket prices every line or fails the whole basket; there are no
// partial baskets. Returns the snapshotted lines and the total in minor units.
func (c *Catalog) PriceBasket(lines []BasketLine) ([]LineItem, int64, error) {
	if len(lines) == 0 {
		return nil, 0, apperr.Validation("basket is empty")
	}
	items := make([]LineItem, 0, len(lines))
	var total int64
	for _, l := range lines {
		item, err := c.Price(l.ProductCode, l.Quantity)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
		total += item.LineTotal
	}
	return items, total, nil
}

// EncodeBasket packs basket lines into the compact "code:qty,code:qty" form
// carried in provider metadata. Providers truncate metadata, so this stays
// well under their size limits where JSON would not.
func EncodeBasket(lines []BasketLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = fmt.Sprintf("%s:%d", l.ProductCode, l.Quantity)
	}
	return strings.Join(parts, ",")
}

// DecodeBasket reverses EncodeBasket. Any malformed pair fails the whole
// decode; the caller decides whether that is fatal.
func DecodeBasket(encoded string) ([]BasketLine, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, fmt.Errorf("empty basket metadata")
	}
	parts := strings.Split(encoded, ",")
	lines := make([]BasketLine, 0, len(parts))
	for _, part := range parts {
		code, qtyStr, ok := strings.Cut(part, ":")
		if !ok || code == "" {
			return nil, fmt.Errorf("malformed basket pair %q", part)
		}
		qty, err := strconv.ParseInt(qtyStr, 10, 32)
		if err != nil || qty < 1 {
			return nil, fmt.Errorf("malformed quantity in basket pair %q", part)
		}
		lines = append(lines, BasketLine{ProductCode: code, Quantity: int32(qty)})
	}
	return lines, nil
}
