package identify

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"gocv.io/x/gocv"

	"cardscan/internal/catalog"
	"cardscan/internal/imageio"
)

// promptMu serializes every operator interaction process-wide, from showing
// the comparison through receiving the answer. Workers block on it; human
// input has no timeout.
var promptMu sync.Mutex

// TerminalPrompter implements Prompter on stdin/stdout. On a non-terminal
// stdin it answers reject/skip so unattended batches keep moving.
type TerminalPrompter struct {
	in          *bufio.Reader
	out         io.Writer
	compareFile string
	interactive bool
}

// NewTerminalPrompter builds the stdin/stdout prompter. Comparison
// composites are written under workDir for the operator to open.
func NewTerminalPrompter(workDir string) *TerminalPrompter {
	return &TerminalPrompter{
		in:          bufio.NewReader(os.Stdin),
		out:         os.Stdout,
		compareFile: filepath.Join(workDir, "compare.jpg"),
		interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

// ConfirmMatch shows a borderline candidate and asks yes/no/recrop.
func (p *TerminalPrompter) ConfirmMatch(crop, ref gocv.Mat, candidate *catalog.CardRecord, score float64) (Decision, error) {
	promptMu.Lock()
	defer promptMu.Unlock()

	if !p.interactive {
		log.Info("no terminal, rejecting borderline match", "id", candidate.ID)
		return DecisionReject, nil
	}

	if !ref.Empty() {
		if err := imageio.WriteComparison(p.compareFile, crop, ref, candidate.Name, score); err != nil {
			log.Warn("could not write comparison image", "error", err)
		} else {
			fmt.Fprintf(p.out, "Comparison image: %s\n", p.compareFile)
		}
	}

	fmt.Fprintf(p.out, "Possible match: %s (%s), score %.3f\n", candidate.Name, candidate.ID, score)
	for {
		fmt.Fprint(p.out, "Accept? [y]es / [n]o / [r]ecrop: ")
		answer, err := p.readLine()
		if err != nil {
			return DecisionReject, err
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return DecisionAccept, nil
		case "n", "no":
			return DecisionReject, nil
		case "r", "recrop":
			return DecisionBadCrop, nil
		}
	}
}

// ManualEntry asks the operator to name the card. Supports "list" to browse
// the set, "skip" to abandon, and for old Japanese sets a National Pokédex
// number that resolves to an English name search.
func (p *TerminalPrompter) ManualEntry(cat *catalog.Catalog, lang catalog.Language) (*catalog.CardRecord, error) {
	promptMu.Lock()
	defer promptMu.Unlock()

	if !p.interactive {
		log.Info("no terminal, skipping manual entry")
		return nil, nil
	}

	for {
		fmt.Fprint(p.out, "Card number or name ('list' to browse, 'skip' to give up): ")
		input, err := p.readLine()
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(input) {
		case "":
			continue
		case "skip":
			return nil, nil
		case "list":
			p.printRecords(cat.Records(), lang)
			continue
		}

		term := input
		if cat.UsePokedex && lang == catalog.LangJA {
			if resolved := p.resolvePokedex(cat, input); resolved != "" {
				term = resolved
			}
		}

		results := cat.Search(term)
		switch len(results) {
		case 0:
			fmt.Fprintf(p.out, "No card matches %q.\n", term)
		case 1:
			return results[0].Record, nil
		default:
			if rec := p.chooseFrom(results, lang); rec != nil {
				return rec, nil
			}
		}
	}
}

// resolvePokedex maps a Pokédex number or Japanese species name to the
// English name used by the catalog search. Empty when nothing resolves.
func (p *TerminalPrompter) resolvePokedex(cat *catalog.Catalog, input string) string {
	if _, err := strconv.Atoi(strings.TrimSpace(input)); err == nil {
		if name := cat.Pokedex.EnglishName(input); name != "" {
			fmt.Fprintf(p.out, "Pokedex %s = %s\n", input, name)
			return name
		}
		return ""
	}
	if name := cat.Pokedex.SearchByJapanese(input); name != "" {
		fmt.Fprintf(p.out, "%s = %s\n", input, name)
		return name
	}
	return ""
}

// chooseFrom presents numbered candidates; an empty answer cancels.
func (p *TerminalPrompter) chooseFrom(results []catalog.SearchResult, lang catalog.Language) *catalog.CardRecord {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.AppendHeader(table.Row{"#", "Number", "Name", "ID"})
	for i, result := range results {
		t.AppendRow(table.Row{i + 1, result.Record.LocalNumber, result.Record.NameFor(lang), result.Record.ID})
	}
	t.Render()

	for {
		fmt.Fprintf(p.out, "Pick 1-%d (empty to cancel): ", len(results))
		answer, err := p.readLine()
		if err != nil || answer == "" {
			return nil
		}
		idx, err := strconv.Atoi(answer)
		if err == nil && idx >= 1 && idx <= len(results) {
			return results[idx-1].Record
		}
	}
}

func (p *TerminalPrompter) printRecords(records []*catalog.CardRecord, lang catalog.Language) {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.AppendHeader(table.Row{"Number", "Name"})
	for _, record := range records {
		t.AppendRow(table.Row{record.LocalNumber, record.NameFor(lang)})
	}
	t.Render()
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
