package invoice

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Smoaflie/invoice-collection/internal/ocr"
)

// Column order matters only for grouping; splicing is per-column.
const (
	colName = iota
	colKind
	colUnit
	colQuantity
	colUnitPrice
	colAmount
	colTaxRate
	colTax
	colCount
)

func columnSlices(c ocr.ItemColumns) [colCount][]ocr.Cell {
	return [colCount][]ocr.Cell{
		colName:      c.Name,
		colKind:      c.Kind,
		colUnit:      c.Unit,
		colQuantity:  c.Quantity,
		colUnitPrice: c.UnitPrice,
		colAmount:    c.Amount,
		colTaxRate:   c.TaxRate,
		colTax:       c.Tax,
	}
}

// BuildItems merges the sparse, page-scoped column lists into one row space
// and cuts it into items at the amount column's row indices.
//
// All columns of a page share one offset: rows are re-tagged by the running
// maximum row index seen on the previous pages, whichever column carried it.
// Independent per-column offsets would break alignment between columns.
//
// An invoice whose amount column is empty across every page yields no items;
// some invoice families legitimately carry no line table.
func BuildItems(pages []ocr.Page) []Item {
	var merged [colCount][]ocr.Cell
	nextRowIndex := 0
	for _, page := range pages {
		cols := columnSlices(page.Columns)
		maxRow := 0
		for _, cells := range cols {
			for _, c := range cells {
				if c.Row > maxRow {
					maxRow = c.Row
				}
			}
		}
		for i, cells := range cols {
			for _, c := range cells {
				merged[i] = append(merged[i], ocr.Cell{Row: c.Row + nextRowIndex, Word: c.Word})
			}
		}
		nextRowIndex += maxRow
	}

	var dense [colCount][]string
	for i, cells := range merged {
		dense[i] = denseColumn(cells)
	}

	// One item per amount row, final boundary one past the table end.
	starts := make([]int, 0, len(merged[colAmount])+1)
	for _, c := range merged[colAmount] {
		starts = append(starts, c.Row)
	}
	starts = append(starts, nextRowIndex+1)

	items := make([]Item, 0, len(starts)-1)
	for i := 0; i < len(starts)-1; i++ {
		lo, hi := starts[i], starts[i+1]
		items = append(items, Item{
			Name:      splice(dense[colName], lo, hi),
			Kind:      splice(dense[colKind], lo, hi),
			Unit:      splice(dense[colUnit], lo, hi),
			Quantity:  parseQuantity(splice(dense[colQuantity], lo, hi)),
			UnitPrice: parseDecimal(splice(dense[colUnitPrice], lo, hi)),
			Amount:    parseDecimal(splice(dense[colAmount], lo, hi)),
			TaxRate:   splice(dense[colTaxRate], lo, hi),
			Tax:       parseDecimal(splice(dense[colTax], lo, hi)),
		})
	}
	return items
}

// denseColumn expands a sparse cell list into a contiguous string slice,
// empty strings filling the skipped rows.
func denseColumn(cells []ocr.Cell) []string {
	var out []string
	index := 0
	for _, c := range cells {
		for index < c.Row {
			out = append(out, "")
			index++
		}
		out = append(out, c.Word)
		index++
	}
	return out
}

// splice concatenates a column over [lo, hi) with no separator, rejoining
// values the vendor split across wrapped rows.
func splice(col []string, lo, hi int) string {
	if lo < 0 {
		lo = 0
	}
	if hi > len(col) {
		hi = len(col)
	}
	if lo >= hi {
		return ""
	}
	return strings.Join(col[lo:hi], "")
}

// parseQuantity is the fails-soft integer parse: anything unparsable is 0.
func parseQuantity(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// parseDecimal is the fails-soft money parse: anything unparsable is zero.
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
