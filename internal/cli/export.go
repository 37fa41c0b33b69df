package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reports as JSON",
		Long:  "Export every stored report as a JSON array, oldest first. Filter by label with --label.",
		Run:   runExport,
	}

	cmd.Flags().String("label", "", "Filter by label")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	reports, err := s.ExportAll(cmd.Context(), label)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd.OutOrStdout(), reports)
}
