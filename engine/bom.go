/*
bom.go - Bill-of-materials expansion and quantity sync

PURPOSE:
  Selecting a product pulls its constituent consumables into the supply
  list as auto rows. Auto rows stay in sync with the product rows they
  were derived from; manual rows are never touched.

COMPOSITION GRAMMAR:
  Entries are separated by ',', ';' or newlines. Each entry names a
  consumable with an optional quantity, either before or after the name:

    "Filter x2, Gasket; O-ring (3)"
    "2×Filter"
    "Cleaner: 0.5"

  A missing quantity means 1. Duplicate names are summed.

SYNC RULE:
  An auto row's quantity is always recomputed from scratch:

    qty(row) = Σ over linked product rows p: p.Quantity × perUnit(p, row)

  where perUnit is the component quantity in p's composition. A row whose
  links become empty, or whose quantity becomes zero, is removed.
*/
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG
// =============================================================================

type ItemKind string

const (
	KindProduct    ItemKind = "product"
	KindConsumable ItemKind = "consumable"
)

// CatalogItem is one entry of the product/consumable catalog.
type CatalogItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Kind        ItemKind `json:"kind"`
	Composition string   `json:"composition,omitempty"`
}

// Catalog resolves products and consumables. Missing entries return (nil, nil).
type Catalog interface {
	LookupProduct(ctx context.Context, name, category string) (*CatalogItem, error)
	LookupConsumable(ctx context.Context, name string) (*CatalogItem, error)
}

// =============================================================================
// COMPOSITION PARSING
// =============================================================================

// Component is one consumable of a product composition, per product unit.
type Component struct {
	Name     string
	Quantity decimal.Decimal
}

var (
	entrySep  = regexp.MustCompile(`[,;\n]+`)
	qtyPrefix = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[xX×*]\s*(.+)$`)
	qtySuffix = regexp.MustCompile(`^(.+?)\s*(?:[xX×*]\s*(\d+(?:\.\d+)?)|\(\s*(\d+(?:\.\d+)?)\s*\)|:\s*(\d+(?:\.\d+)?))$`)
	one       = decimal.NewFromInt(1)
)

// ParseComposition parses a composition string. Unparseable fragments are
// treated as names with quantity 1; empty fragments are skipped.
func ParseComposition(s string) []Component {
	var out []Component
	index := make(map[string]int)

	for _, raw := range entrySep.Split(s, -1) {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		name, qty := parseEntry(entry)
		if name == "" || !qty.IsPositive() {
			continue
		}
		if i, ok := index[name]; ok {
			out[i].Quantity = out[i].Quantity.Add(qty)
			continue
		}
		index[name] = len(out)
		out = append(out, Component{Name: name, Quantity: qty})
	}
	return out
}

func parseEntry(entry string) (string, decimal.Decimal) {
	if m := qtyPrefix.FindStringSubmatch(entry); m != nil {
		return strings.TrimSpace(m[2]), decimal.RequireFromString(m[1])
	}
	if m := qtySuffix.FindStringSubmatch(entry); m != nil {
		for _, q := range m[2:] {
			if q != "" {
				return strings.TrimSpace(m[1]), decimal.RequireFromString(q)
			}
		}
	}
	return entry, one
}

// =============================================================================
// EXPANDER - Product/supply list operations
// =============================================================================

// Selection is the editable product and supply lists of one report.
type Selection struct {
	Products []ItemSelection `json:"products"`
	Supplies []ItemSelection `json:"supplies"`
}

func (s Selection) clone() Selection {
	return Selection{Products: cloneSelections(s.Products), Supplies: cloneSelections(s.Supplies)}
}

// Expander applies product-row edits and keeps auto rows in sync.
// Every operation returns a new Selection; the input is not modified.
type Expander struct {
	Catalog Catalog
}

// AddProduct appends a product row and merges its composition into the
// supply list.
func (e Expander) AddProduct(ctx context.Context, sel Selection, product ItemSelection) (Selection, error) {
	if product.Quantity.IsNegative() {
		return sel, &ValidationError{Problems: []string{"product quantity must not be negative"}}
	}
	if product.Quantity.IsZero() {
		product.Quantity = one
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.IsAuto = false
	product.LinkedIDs = nil

	out := sel.clone()
	out.Products = append(out.Products, product)

	components, err := e.composition(ctx, product)
	if err != nil {
		return sel, err
	}
	for _, c := range components {
		item, err := e.Catalog.LookupConsumable(ctx, c.Name)
		if err != nil {
			return sel, fmt.Errorf("lookup consumable %q: %w", c.Name, err)
		}
		if item == nil {
			continue
		}
		key := NewItemKey(item.Name, item.Category)
		if i := findAutoRow(out.Supplies, key); i >= 0 {
			out.Supplies[i].LinkedIDs = appendUnique(out.Supplies[i].LinkedIDs, product.ID)
			continue
		}
		out.Supplies = append(out.Supplies, ItemSelection{
			ID:        uuid.NewString(),
			Name:      item.Name,
			Category:  item.Category,
			IsAuto:    true,
			LinkedIDs: []string{product.ID},
		})
	}

	return e.Sync(ctx, out)
}

// SetProductQuantity changes a product row quantity. Zero removes the row.
func (e Expander) SetProductQuantity(ctx context.Context, sel Selection, productID string, qty decimal.Decimal) (Selection, error) {
	if qty.IsNegative() {
		return sel, &ValidationError{Problems: []string{"product quantity must not be negative"}}
	}
	if qty.IsZero() {
		return e.RemoveProduct(ctx, sel, productID)
	}

	out := sel.clone()
	i := findRow(out.Products, productID)
	if i < 0 {
		return sel, &ValidationError{Problems: []string{fmt.Sprintf("product row %s not found", productID)}}
	}
	out.Products[i].Quantity = qty
	return e.Sync(ctx, out)
}

// RemoveProduct deletes a product row and strips it from every auto row.
func (e Expander) RemoveProduct(ctx context.Context, sel Selection, productID string) (Selection, error) {
	out := sel.clone()
	i := findRow(out.Products, productID)
	if i < 0 {
		return sel, &ValidationError{Problems: []string{fmt.Sprintf("product row %s not found", productID)}}
	}
	out.Products = append(out.Products[:i], out.Products[i+1:]...)

	for j := range out.Supplies {
		if out.Supplies[j].IsAuto {
			out.Supplies[j].LinkedIDs = removeString(out.Supplies[j].LinkedIDs, productID)
		}
	}
	return e.Sync(ctx, out)
}

// Sync recomputes every auto row from the product rows it links to.
// Links to rows that no longer exist are dropped.
func (e Expander) Sync(ctx context.Context, sel Selection) (Selection, error) {
	products := make(map[string]ItemSelection, len(sel.Products))
	for _, p := range sel.Products {
		products[p.ID] = p
	}
	compositions := make(map[ItemKey][]Component)

	supplies := make([]ItemSelection, 0, len(sel.Supplies))
	for _, row := range sel.Supplies {
		if !row.IsAuto {
			supplies = append(supplies, row)
			continue
		}

		var links []string
		total := decimal.Zero
		for _, id := range row.LinkedIDs {
			p, ok := products[id]
			if !ok {
				continue
			}
			links = append(links, id)

			comps, cached := compositions[p.Key()]
			if !cached {
				var err error
				if comps, err = e.composition(ctx, p); err != nil {
					return sel, err
				}
				compositions[p.Key()] = comps
			}
			total = total.Add(p.Quantity.Mul(perUnit(comps, row.Name)))
		}

		if len(links) == 0 || !total.IsPositive() {
			continue
		}
		row.LinkedIDs = links
		row.Quantity = total
		supplies = append(supplies, row)
	}

	sel.Supplies = supplies
	return sel, nil
}

func (e Expander) composition(ctx context.Context, product ItemSelection) ([]Component, error) {
	if e.Catalog == nil {
		return nil, nil
	}
	item, err := e.Catalog.LookupProduct(ctx, product.Name, product.Category)
	if err != nil {
		return nil, fmt.Errorf("lookup product %q: %w", product.Name, err)
	}
	if item == nil || strings.TrimSpace(item.Composition) == "" {
		return nil, nil
	}
	return ParseComposition(item.Composition), nil
}

func perUnit(comps []Component, name string) decimal.Decimal {
	name = strings.TrimSpace(name)
	total := decimal.Zero
	for _, c := range comps {
		if strings.EqualFold(c.Name, name) {
			total = total.Add(c.Quantity)
		}
	}
	return total
}

func findAutoRow(rows []ItemSelection, key ItemKey) int {
	for i, r := range rows {
		if r.IsAuto && r.Key() == key {
			return i
		}
	}
	return -1
}

func findRow(rows []ItemSelection, id string) int {
	for i, r := range rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeString(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
