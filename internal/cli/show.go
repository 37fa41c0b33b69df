package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a stored report",
		Long:  "Show a stored report by id. Without an id, or with \"latest\", shows the newest report.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runShow,
	}

	cmd.Flags().Bool("summary", false, "Only print the per-category summary")

	RootCmd.AddCommand(cmd)
}

func runShow(cmd *cobra.Command, args []string) {
	summary, _ := cmd.Flags().GetBool("summary")
	id := "latest"
	if len(args) == 1 {
		id = args[0]
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rep, err := s.Get(cmd.Context(), id)
	if err != nil {
		exitErr("show", err)
	}

	switch {
	case summary && textFormat():
		renderSummary(cmd.OutOrStdout(), rep.Summary)
	case summary:
		printJSON(cmd.OutOrStdout(), rep.Summary)
	case textFormat():
		renderReport(cmd.OutOrStdout(), rep)
	default:
		printJSON(cmd.OutOrStdout(), rep)
	}
}
