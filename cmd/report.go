package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kilianp07/dernego/core/recorder"
	"github.com/kilianp07/dernego/pkg/export"
)

var reportFlags struct {
	RunID    string
	Status   string
	ViewsDir string
	JSON     bool
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print recorded negotiations and export analysis views",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFlags.RunID, "run", "", "run id filter")
	reportCmd.Flags().StringVar(&reportFlags.Status, "status", "", "status filter")
	reportCmd.Flags().StringVar(&reportFlags.ViewsDir, "views", "", "write CSV views into this directory")
	reportCmd.Flags().BoolVar(&reportFlags.JSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := recorder.Open(cfg.Results)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Query(context.Background(), recorder.Query{RunID: reportFlags.RunID, Status: reportFlags.Status})
	if err != nil {
		return err
	}
	if reportFlags.JSON {
		return export.WriteJSON(cmd.OutOrStdout(), recs)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{"Run", "Negotiation", "Status", "Committed", "Rounds", "Objective", "Mean |residual|", "Max |residual|"})
	for _, r := range recs {
		st := export.Summarize(r)
		tw.AppendRow(table.Row{r.RunID, r.NegotiationID, r.Status, r.Committed, r.Rounds,
			fmt.Sprintf("%.6g", r.Objective), fmt.Sprintf("%.6g", st.MeanAbsResidual), fmt.Sprintf("%.6g", st.MaxAbsResidual)})
	}
	run := export.SummarizeRun(recs)
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d records", run.Count), fmt.Sprintf("%.0f%% converged", run.ConvergedRatio*100), "",
		fmt.Sprintf("%.1f", run.MeanRounds), fmt.Sprintf("%.6g", run.MeanObjective), "", ""})
	tw.Render()

	if reportFlags.ViewsDir == "" {
		return nil
	}
	paths, err := export.WriteViews(reportFlags.ViewsDir, recs)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stderr, "wrote %d view files to %s\n", len(paths), reportFlags.ViewsDir)
	return err
}
