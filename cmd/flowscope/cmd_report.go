package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/spf13/afero"

	"github.com/flowscope/flowscope/src/diagnostics"
)

// ReportCmd exports the diagnostics report for a conversation as JSON.
type ReportCmd struct {
	ConversationID string `arg:"" help:"Conversation id to report on"`
	Output         string `help:"Output file (defaults to the configured report directory)"`
}

// Run executes the report command
func (c *ReportCmd) Run(ctx *kong.Context, cli *CLI) error {
	a, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Diagnostics == nil {
		return fmt.Errorf("diagnostics are disabled in the configuration")
	}

	report, err := a.Diagnostics.GenerateReport(c.ConversationID)
	if err != nil {
		return err
	}

	out := c.Output
	if out == "" {
		dir := a.Config.Storage.ReportDir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		out = filepath.Join(dir, fmt.Sprintf("report-%s.json", c.ConversationID))
	}

	if err := diagnostics.WriteReport(afero.NewOsFs(), out, report); err != nil {
		return err
	}
	fmt.Printf("Report written: %s (%d events, %d issues)\n",
		out, report.Summary.EventCount, report.Summary.IssueCount)
	return nil
}
