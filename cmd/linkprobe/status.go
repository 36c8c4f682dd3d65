package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/linkprobe/internal/storage"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest outcome of every URL from the run history",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, closeLog, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is not set in %s", cfgFile)
	}
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	return executeStatus(cmd, db)
}

type statusStore interface {
	AllLatest(ctx context.Context) ([]storage.Outcome, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	outcomes, err := db.AllLatest(context.Background())
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(outcomes) == 0 {
		fmt.Fprintln(out, "No run history. Run 'linkprobe scan' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "URL\tSTATUS\tCODE\tRESPONSE\tLAST CHECKED\tERROR")
	for _, o := range outcomes {
		status := "inactive"
		if o.Active {
			status = "active"
		}
		code := "—"
		if o.StatusCode > 0 {
			code = fmt.Sprintf("%d", o.StatusCode)
		}
		resp := "—"
		if o.ResponseMs > 0 {
			resp = (time.Duration(o.ResponseMs) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.URL,
			status,
			code,
			resp,
			o.CheckedAt.Local().Format("2006-01-02 15:04:05"),
			o.Error,
		)
	}
	w.Flush()
	return nil
}
