package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/promptscope/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored reports",
		Run:   runList,
	}

	cmd.Flags().String("label", "", "Filter by label")
	cmd.Flags().Bool("recursive", false, "Only reports with recursive activations")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")
	recursive, _ := cmd.Flags().GetBool("recursive")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	reports, err := s.List(cmd.Context(), store.ListParams{
		Label:     label,
		Recursive: recursive,
		Limit:     limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if textFormat() {
		renderList(cmd.OutOrStdout(), reports)
		return
	}
	printJSON(cmd.OutOrStdout(), reports)
}
