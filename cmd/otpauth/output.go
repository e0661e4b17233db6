package main

import (
	"encoding/json"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = text.FgHiCyan.Sprint(c)
	}
	return row
}

func statusText(ok bool) string {
	if ok {
		return text.FgGreen.Sprint("ok")
	}
	return text.FgRed.Sprint("failed")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskToken keeps enough of a token to tell sessions apart.
func maskToken(tok string) string {
	const keep = 8
	if len(tok) <= keep {
		return tok
	}
	return tok[:keep] + "..."
}
