package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "graph [id]",
		Short: "Show recursion edges of a report",
		Long: "Show which activated entries' content triggered other entries. With --uid, list every stored " +
			"edge touching that entry across all reports.",
		Args: cobra.MaximumNArgs(1),
		Run:  runGraph,
	}

	cmd.Flags().Int("uid", -1, "List edges for one entry uid across reports")

	RootCmd.AddCommand(cmd)
}

func runGraph(cmd *cobra.Command, args []string) {
	uid, _ := cmd.Flags().GetInt("uid")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if uid >= 0 {
		records, err := s.EdgesFor(cmd.Context(), uid)
		if err != nil {
			exitErr("graph", err)
		}
		printJSON(cmd.OutOrStdout(), records)
		return
	}

	id := "latest"
	if len(args) == 1 {
		id = args[0]
	}
	rep, err := s.Get(cmd.Context(), id)
	if err != nil {
		exitErr("graph", err)
	}
	edges, err := s.Edges(cmd.Context(), rep.ID)
	if err != nil {
		exitErr("graph", err)
	}

	if textFormat() {
		renderEdges(cmd.OutOrStdout(), edges)
		return
	}
	printJSON(cmd.OutOrStdout(), map[string]any{
		"id":           rep.ID,
		"hasRecursion": rep.HasRecursion,
		"edges":        edges,
	})
}
