package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/promptscope/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search stored prompt sections by keyword",
		Long:  "Search section content and names across every stored report.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().String("tag", "", "Filter by section tag, e.g. WI_BEFORE")
	cmd.Flags().String("category", "", "Filter by category, e.g. \"World Info\"")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	tag, _ := cmd.Flags().GetString("tag")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Search(cmd.Context(), store.SearchParams{
		Query:    strings.Join(args, " "),
		Tag:      strings.ToUpper(tag),
		Category: category,
		Limit:    limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	if textFormat() {
		renderSearch(cmd.OutOrStdout(), results)
		return
	}
	printJSON(cmd.OutOrStdout(), results)
}
