package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/promptscope/internal/inspector"
	"github.com/rcliao/promptscope/internal/matcher"
	"github.com/rcliao/promptscope/internal/model"
	"github.com/rcliao/promptscope/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "replay [transcript]",
		Short: "Itemize a recorded host transcript",
		Long: "Replay a newline-delimited JSON transcript of host events (file or stdin). Every generation " +
			"that reaches a final prompt produces a report with sections, trigger reasons and recursion edges.",
		Args: cobra.MaximumNArgs(1),
		Run:  runReplay,
	}

	cmd.Flags().String("label", "", "Label stored with each report")
	cmd.Flags().Bool("no-save", false, "Print reports without storing them")
	addTokenizerFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	label, _ := cmd.Flags().GetString("label")
	noSave, _ := cmd.Flags().GetBool("no-save")

	counter, err := counterFromFlags(cmd)
	if err != nil {
		exitErr("tokenizer", err)
	}

	in, closeIn, err := openInput(cmd, args)
	if err != nil {
		exitErr("open transcript", err)
	}
	defer closeIn()

	initial, maxDelay := cfg.HookDelays()
	insp := inspector.New(inspector.Options{
		Matcher: matcher.New(cfg.Matcher),
		Counter: counter,
		Logger:  logger,
		Prefix:  cfg.Capture.Prefix,
		Hook: inspector.HookOptions{
			MaxAttempts:  cfg.Hook.MaxAttempts,
			InitialDelay: initial,
			MaxDelay:     maxDelay,
		},
	})

	reports, err := insp.Replay(cmd.Context(), in)
	if err != nil {
		exitErr("replay", err)
	}
	logger.Debug("replay finished", zap.Int("reports", len(reports)))

	if !noSave && len(reports) > 0 {
		s, err := openStore()
		if err != nil {
			exitErr("open store", err)
		}
		defer s.Close()
		for i, rep := range reports {
			saved, err := s.Save(cmd.Context(), store.SaveParams{Report: rep, Label: label})
			if err != nil {
				exitErr("save report", err)
			}
			reports[i] = saved
		}
	}

	if textFormat() {
		for _, rep := range reports {
			renderReport(cmd.OutOrStdout(), rep)
		}
		return
	}
	if reports == nil {
		reports = []*model.Report{}
	}
	printJSON(cmd.OutOrStdout(), reports)
}

// openInput opens args[0], or stdin when no file or "-" is given.
func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
