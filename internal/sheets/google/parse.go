package google

import (
	"fmt"
	"strings"

	"creditos/internal/core"
)

// rowsToRaw turns a values matrix into raw records keyed by the header row.
// Empty cells and empty header columns are left out of the record, and rows
// with no values at all are skipped.
func rowsToRaw(values [][]any) core.RawDataset {
	if len(values) == 0 {
		return core.RawDataset{}
	}
	headers := make([]string, len(values[0]))
	for i, h := range values[0] {
		headers[i] = strings.TrimSpace(fmt.Sprint(h))
	}

	out := make(core.RawDataset, 0, len(values)-1)
	for _, row := range values[1:] {
		rec := make(core.RawRecord, len(headers))
		for i, cell := range row {
			if i >= len(headers) || headers[i] == "" || isEmpty(cell) {
				continue
			}
			rec[headers[i]] = cell
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func isEmpty(cell any) bool {
	if cell == nil {
		return true
	}
	s, ok := cell.(string)
	return ok && strings.TrimSpace(s) == ""
}
