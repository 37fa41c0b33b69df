package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/itemize"
	"github.com/rcliao/promptscope/internal/tokenizer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "retokenize [id]",
		Short: "Recount a stored report with another tokenizer",
		Long: "Recount every section of a stored report. The first recount keeps the original counts; " +
			"selecting the original tokenizer again, or --restore, brings them back exactly.",
		Args: cobra.MaximumNArgs(1),
		Run:  runRetokenize,
	}

	cmd.Flags().Bool("restore", false, "Restore the original counts")
	addTokenizerFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func addTokenizerFlags(cmd *cobra.Command) {
	cmd.Flags().String("tokenizer", "", "Tokenizer provider: estimate or http (default from config)")
	cmd.Flags().String("tokenizer-url", "", "Count endpoint for the http provider")
	cmd.Flags().String("tokenizer-name", "", "Name recorded for the tokenizer")
	cmd.Flags().String("tokenizer-model", "", "Model sent to the count endpoint")
}

// counterFromFlags builds a counter from the config, overridden by flags.
func counterFromFlags(cmd *cobra.Command) (tokenizer.Counter, error) {
	tc := cfg.Tokenizer
	if v, _ := cmd.Flags().GetString("tokenizer"); v != "" {
		tc.Provider = v
	}
	if v, _ := cmd.Flags().GetString("tokenizer-url"); v != "" {
		tc.URL = v
		if tc.Provider == "" || tc.Provider == "estimate" {
			tc.Provider = "http"
		}
	}
	if v, _ := cmd.Flags().GetString("tokenizer-name"); v != "" {
		tc.Name = v
	}
	if v, _ := cmd.Flags().GetString("tokenizer-model"); v != "" {
		tc.Model = v
	}
	c, err := tokenizer.New(tc)
	if err != nil {
		return nil, err
	}
	logger.Debug("tokenizer selected", zap.String("tokenizer", tokenizer.Describe(c)))
	return c, nil
}

func runRetokenize(cmd *cobra.Command, args []string) {
	restore, _ := cmd.Flags().GetBool("restore")
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
		exitErr("retokenize", err)
	}
	if rep.Itemization == nil {
		exitErr("retokenize", fmt.Errorf("report %s has no itemization", rep.ID))
	}

	if restore {
		rep.Itemization.Restore()
	} else {
		counter, err := counterFromFlags(cmd)
		if err != nil {
			exitErr("tokenizer", err)
		}
		if err := itemize.Recalculate(cmd.Context(), rep.Itemization, counter); err != nil {
			exitErr("retokenize", err)
		}
	}
	rep.Summary = itemize.Summarize(rep.Itemization)

	if err := s.Update(cmd.Context(), rep); err != nil {
		exitErr("update report", err)
	}

	if textFormat() {
		renderSummary(cmd.OutOrStdout(), rep.Summary)
		return
	}
	printJSON(cmd.OutOrStdout(), map[string]any{
		"id":                rep.ID,
		"tokenizer":         rep.Itemization.Tokenizer,
		"totalMarkedTokens": rep.Itemization.TotalMarkedTokens,
		"originalTokenizer": rep.Itemization.OriginalTokenizer,
		"originalTotal":     rep.Itemization.OriginalTotal,
	})
}
