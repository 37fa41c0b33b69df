package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/trigger"
)

func init() {
	cmd := &cobra.Command{
		Use:   "triggers [id]",
		Short: "Show why each world-info entry activated",
		Args:  cobra.MaximumNArgs(1),
		Run:   runTriggers,
	}

	cmd.Flags().Bool("confident", false, "Only records backed by log evidence")

	RootCmd.AddCommand(cmd)
}

func runTriggers(cmd *cobra.Command, args []string) {
	confident, _ := cmd.Flags().GetBool("confident")
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
		exitErr("triggers", err)
	}

	records := []model.TriggerRecord{}
	for _, r := range rep.Triggers {
		if confident && !r.Confident {
			continue
		}
		records = append(records, r)
	}
	trigger.SortByLevel(records)

	if textFormat() {
		renderTriggers(cmd.OutOrStdout(), records)
		return
	}
	printJSON(cmd.OutOrStdout(), records)
}
