// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/netSkope/sharepoint-extractor/internal/graph"
)

// Row is one output record, one cell per requested field.
type Row = []string

func rowKey(r Row) string {
	return strings.Join(r, "\x1f")
}

// BuildRows turns list items into deduplicated output rows.
//
// Each requested field value is trimmed. A value containing a comma is split
// into sub-values and the sub-value sequences of one item are zipped by
// position, so an item yields as many rows as its shortest sequence. Cells
// are trimmed again after the split. Rows equal to an earlier row of the same
// call are dropped; first-seen order is kept.
func BuildRows(items []graph.Item, fields []string) []Row {
	if len(fields) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var rows []Row

	for _, item := range items {
		exploded := make([][]string, len(fields))
		width := -1
		for i, field := range fields {
			v := strings.TrimSpace(cellValue(item.Fields[field]))
			if strings.Contains(v, ",") {
				exploded[i] = strings.Split(v, ",")
			} else {
				exploded[i] = []string{v}
			}
			if width < 0 || len(exploded[i]) < width {
				width = len(exploded[i])
			}
		}

		for n := 0; n < width; n++ {
			row := make(Row, len(fields))
			for i := range fields {
				row[i] = strings.TrimSpace(exploded[i][n])
			}
			k := rowKey(row)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			rows = append(rows, row)
		}
	}

	return rows
}

// cellValue renders a Graph field value. Missing values are empty and numbers
// keep their literal digits.
func cellValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
