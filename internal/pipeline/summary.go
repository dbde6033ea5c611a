package pipeline

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"cardscan/internal/memory"
)

// RenderSummary prints the end-of-batch table: per-language counts plus the
// set's cumulative learning statistics.
func RenderSummary(out io.Writer, results []Result, stats memory.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Language", "Pairs", "Identified", "Skipped", "Failed"})

	var pairs, identified, skipped, failed int
	for _, r := range results {
		t.AppendRow(table.Row{r.Language, r.Pairs, r.Identified, r.Skipped, r.Failed})
		pairs += r.Pairs
		identified += r.Identified
		skipped += r.Skipped
		failed += r.Failed
	}
	t.AppendFooter(table.Row{"Total", pairs, identified, skipped, failed})
	t.Render()

	fmt.Fprintf(out, "Learning memory: %d cards, auto-match rate %.1f%%\n",
		stats.TotalProcessed, stats.AutoMatchRate()*100)
}
