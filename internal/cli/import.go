package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/promptscope/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import reports from JSON",
		Long:  "Import reports from JSON (file or stdin). Expects the format produced by export; existing ids are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	in, closeIn, err := openInput(cmd, args)
	if err != nil {
		exitErr("open input", err)
	}
	defer closeIn()

	data, err := io.ReadAll(in)
	if err != nil {
		exitErr("read input", err)
	}

	var reports []model.Report
	if err := json.Unmarshal(data, &reports); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := s.Import(cmd.Context(), reports)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, len(reports)-imported)
}
