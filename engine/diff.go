package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIFF - Human-readable change summary between two revisions
// =============================================================================

// Diff describes what changed from before to after. An empty string means
// nothing a reader would care about changed.
func Diff(before, after Activity) string {
	var changes []string
	changes = append(changes, diffItems("products", before.SelectedProducts, after.SelectedProducts)...)
	changes = append(changes, diffItems("supplies", before.SelectedSupplies, after.SelectedSupplies)...)
	changes = append(changes, diffDetails(before.Details, after.Details)...)
	changes = append(changes, diffFiles("photos", before.Photos, after.Photos)...)
	changes = append(changes, diffFiles("attachments", before.Attachments, after.Attachments)...)
	return strings.Join(changes, "; ")
}

func diffItems(label string, before, after []ItemSelection) []string {
	b := sumByLabel(before)
	a := sumByLabel(after)

	names := make([]string, 0, len(a)+len(b))
	for n := range b {
		names = append(names, n)
	}
	for n := range a {
		if _, ok := b[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var out []string
	for _, n := range names {
		oldQty, had := b[n]
		newQty, has := a[n]
		switch {
		case had && !has:
			out = append(out, fmt.Sprintf("%s: removed %s", label, n))
		case !had && has:
			out = append(out, fmt.Sprintf("%s: added %s x%s", label, n, newQty))
		case !oldQty.Equal(newQty):
			out = append(out, fmt.Sprintf("%s: %s %s -> %s", label, n, oldQty, newQty))
		}
	}
	return out
}

func sumByLabel(items []ItemSelection) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		label := strings.TrimSpace(it.Name)
		if c := strings.TrimSpace(it.Category); c != "" {
			label += " (" + c + ")"
		}
		out[label] = out[label].Add(it.Quantity)
	}
	return out
}

func diffDetails(before, after Details) []string {
	bd, bok := before.(Describer)
	ad, aok := after.(Describer)
	if !bok || !aok {
		bj, _ := json.Marshal(before)
		aj, _ := json.Marshal(after)
		if bytes.Equal(bj, aj) {
			return nil
		}
		return []string{"details changed"}
	}

	old := make(map[string]string)
	for _, f := range bd.Fields() {
		old[f.Name] = f.Value
	}
	var out []string
	for _, f := range ad.Fields() {
		if prev := old[f.Name]; prev != f.Value {
			out = append(out, fmt.Sprintf("%s: %q -> %q", f.Name, prev, f.Value))
		}
	}
	return out
}

func diffFiles(label string, before, after []string) []string {
	added, removed := SetDifference(after, before), SetDifference(before, after)
	var out []string
	if len(added) > 0 {
		out = append(out, fmt.Sprintf("%s: %d added", label, len(added)))
	}
	if len(removed) > 0 {
		out = append(out, fmt.Sprintf("%s: %d removed", label, len(removed)))
	}
	return out
}

// SetDifference returns the elements of a not present in b, in a's order.
func SetDifference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	var out []string
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	return out
}
