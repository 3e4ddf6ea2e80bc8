package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/paveg/tuplejoin"
	"github.com/paveg/tuplejoin/internal/driver"
	tjio "github.com/paveg/tuplejoin/internal/io"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	nullColor   = color.New(color.Faint)
	okColor     = color.New(color.FgGreen)
)

// printTable writes rows as aligned columns. When columns is empty the first
// row's columns are used.
func printTable(w io.Writer, columns []string, rows []*tuplejoin.Tuple) {
	if len(columns) == 0 && len(rows) > 0 {
		columns = rows[0].Columns()
	}
	if len(columns) == 0 {
		fmt.Fprintln(w, "(no rows)")
		return
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, c := range columns {
			v, _ := row.Get(c)
			text := "NULL"
			if v != nil {
				text = tjio.FormatCell(v)
			}
			cells[r][i] = text
			widths[i] = max(widths[i], len(text))
		}
	}

	for i, c := range columns {
		headerColor.Fprint(w, pad(strings.ToUpper(c), widths[i], i == len(columns)-1))
	}
	fmt.Fprintln(w)
	for r, row := range rows {
		for i, c := range columns {
			text := pad(cells[r][i], widths[i], i == len(columns)-1)
			if v, _ := row.Get(c); v == nil {
				nullColor.Fprint(w, text)
				continue
			}
			fmt.Fprint(w, text)
		}
		fmt.Fprintln(w)
	}
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	return s + strings.Repeat(" ", width-len(s)+2)
}

func printSummary(w io.Writer, res *driver.Result) {
	if res == nil {
		return
	}
	c := res.Counters
	okColor.Fprintf(w, "%s rows", humanize.Comma(c.Emitted))
	fmt.Fprintf(w, " from %s records in %s groups (%s aborted, %s malformed, %s spills) in %s\n",
		humanize.Comma(c.Records), humanize.Comma(c.Groups), humanize.Comma(c.Aborted),
		humanize.Comma(c.Malformed), humanize.Comma(c.Spills), res.Duration.Round(time.Microsecond))
}
