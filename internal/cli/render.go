package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/store"
)

const excerptLen = 60

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// excerpt flattens s onto one line and cuts it to n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderReport(w io.Writer, rep *model.Report) {
	header := "Report " + rep.ID
	if rep.Label != "" {
		header += " (" + rep.Label + ")"
	}
	fmt.Fprintln(w, header)
	fmt.Fprintf(w, "Created:   %s\n", rep.CreatedAt.Format(time.RFC3339))
	if it := rep.Itemization; it != nil {
		tok := it.Tokenizer
		if it.Overridden() {
			tok += fmt.Sprintf(" (original %s, %d tokens)", it.OriginalTokenizer, *it.OriginalTotal)
		}
		fmt.Fprintf(w, "Tokenizer: %s\n", tok)
		fmt.Fprintf(w, "Total:     %d tokens in %d sections\n", it.TotalMarkedTokens, len(it.Sections))
	}
	fmt.Fprintf(w, "Recursion: %s\n\n", yesNo(rep.HasRecursion))

	renderSummary(w, rep.Summary)

	if it := rep.Itemization; it != nil && len(it.Sections) > 0 {
		fmt.Fprintln(w)
		tw := newTable(w)
		fmt.Fprintln(tw, "#\tTAG\tNAME\tROLE\tTOKENS\tCONTENT")
		for i, s := range it.Sections {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", i, s.Tag, s.Name, s.Role, s.Tokens, excerpt(s.Content, excerptLen))
		}
		tw.Flush()
	}

	if len(rep.Triggers) > 0 {
		fmt.Fprintln(w)
		renderTriggers(w, rep.Triggers)
	}
	if len(rep.Edges) > 0 {
		fmt.Fprintln(w)
		renderEdges(w, rep.Edges)
	}
	fmt.Fprintln(w)
}

func renderSummary(w io.Writer, summary map[model.Category]model.CategorySummary) {
	tw := newTable(w)
	fmt.Fprintln(tw, "CATEGORY\tSECTIONS\tTOKENS")
	for _, c := range model.Categories {
		cs, ok := summary[c]
		if !ok || len(cs.Sections) == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\n", c, len(cs.Sections), cs.Tokens)
	}
	tw.Flush()
}

func renderTriggers(w io.Writer, records []model.TriggerRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "UID\tWORLD\tREASON\tCONFIDENT\tLEVEL\tKEYWORD")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", r.UID, r.World, r.Reason, yesNo(r.Confident), r.RecursionLevel, r.MatchedKeyword)
	}
	tw.Flush()
}

func renderEdges(w io.Writer, edges []model.RecursionEdge) {
	if len(edges) == 0 {
		fmt.Fprintln(w, "no recursion edges")
		return
	}
	for _, e := range edges {
		fmt.Fprintf(w, "%d (level %d) -> %d (level %d) via %q\n", e.SourceUID, e.SourceLevel, e.TargetUID, e.TargetLevel, e.MatchedKey)
	}
}

func renderList(w io.Writer, reports []store.ReportSummary) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tTOKENIZER\tTOKENS\tSECTIONS\tTRIGGERS\tRECURSION")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Label,
			r.Tokenizer, r.TotalTokens, r.Sections, r.Triggers, yesNo(r.HasRecursion))
	}
	tw.Flush()
}

func renderSearch(w io.Writer, results []store.SearchResult) {
	tw := newTable(w)
	fmt.Fprintln(tw, "REPORT\t#\tTAG\tNAME\tCATEGORY\tTOKENS\tCONTENT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n", r.ReportID, r.Seq, r.Tag, r.Name, r.Category, r.Tokens, excerpt(r.Content, excerptLen))
	}
	tw.Flush()
}

func renderStats(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "Database:  %s (%d bytes)\n", st.DBPath, st.DBSizeBytes)
	fmt.Fprintf(w, "Reports:   %d (%d with recursion)\n", st.Reports, st.Recursive)
	fmt.Fprintf(w, "Sections:  %d\nTriggers:  %d\nEdges:     %d\n\n", st.Sections, st.Triggers, st.Edges)

	tw := newTable(w)
	fmt.Fprintln(tw, "CATEGORY\tSECTIONS\tTOKENS")
	for _, c := range st.Categories {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", c.Category, c.Sections, c.Tokens)
	}
	tw.Flush()

	if len(st.Reasons) > 0 {
		fmt.Fprintln(w)
		tw = newTable(w)
		fmt.Fprintln(tw, "REASON\tCOUNT\tCONFIDENT")
		for _, r := range st.Reasons {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", r.Reason, r.Count, r.Confident)
		}
		tw.Flush()
	}
}
