package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hazz-dev/linkprobe/internal/alert"
	"github.com/hazz-dev/linkprobe/internal/config"
	"github.com/hazz-dev/linkprobe/internal/dispatcher"
	"github.com/hazz-dev/linkprobe/internal/metrics"
	"github.com/hazz-dev/linkprobe/internal/notify"
	"github.com/hazz-dev/linkprobe/internal/output"
	"github.com/hazz-dev/linkprobe/internal/prober"
	"github.com/hazz-dev/linkprobe/internal/result"
	"github.com/hazz-dev/linkprobe/internal/storage"
	"github.com/hazz-dev/linkprobe/internal/tui"
	"github.com/hazz-dev/linkprobe/internal/urllist"
)

type scanOptions struct {
	input       string
	tui         bool
	metricsAddr string
}

func scanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe every URL of the input list and write the active and inactive lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.input, "input", "", "URL list file (overrides the config)")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show an interactive progress view")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the scan")
	return cmd
}

func runScan(cmd *cobra.Command, opts scanOptions) error {
	cfg, logger, closeLog, err := setup(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return executeScan(ctx, cmd.OutOrStdout(), cfg, opts, logger)
}

// errInterrupted is returned when the scan was cut short. Partial results are
// still written.
var errInterrupted = errors.New("scan interrupted")

func executeScan(ctx context.Context, out io.Writer, cfg *config.Config, opts scanOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	console := notify.NewConsole(out)

	input := cfg.Input
	if opts.input != "" {
		input = opts.input
	}
	raw, err := urllist.Load(input)
	if err != nil {
		console.Error(fmt.Sprintf("Could not read URL list %s: %v", input, err))
		return fmt.Errorf("reading url list: %w", err)
	}
	urls := urllist.Prepare(raw)
	if len(urls) == 0 {
		console.Warning(fmt.Sprintf("No URLs found in %s, nothing to do", input))
		logger.Warn("empty url list", "path", input)
		return nil
	}

	m := metrics.New()
	if opts.metricsAddr != "" {
		shutdown := serveMetrics(opts.metricsAddr, m, logger)
		defer shutdown()
	}

	var db *storage.DB
	if cfg.Storage.Path != "" {
		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()
	}

	printBanner(console, len(urls), cfg.Probe)
	logger.Info("scan started", "urls", len(urls), "concurrency", cfg.Probe.ConcurrentScan, "timeout", cfg.Probe.Timeout.Duration)

	logObserver := notify.NewLogObserver(logger)
	var rep dispatcher.Report
	if opts.tui {
		rep, err = runWithTUI(ctx, out, cfg, urls, m, logObserver, logger)
		if err != nil {
			return err
		}
	} else {
		p := prober.New(cfg.Probe,
			prober.WithObserver(notify.Multi(console, logObserver)),
			prober.WithMetrics(m),
		)
		d := dispatcher.New(p, cfg.Probe.ConcurrentScan, logger)
		d.SetMetrics(m)
		rep = d.Run(ctx, urls)
	}
	logger.Info("scan finished",
		"active", len(rep.Active),
		"inactive", len(rep.Inactive),
		"failed", rep.Failed,
		"cancelled", rep.Cancelled,
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
	)

	if err := output.WriteLists(cfg.Output.Active, cfg.Output.Inactive, result.URLs(rep.Active), result.URLs(rep.Inactive)); err != nil {
		console.Error(fmt.Sprintf("Could not save results: %v", err))
		return fmt.Errorf("saving results: %w", err)
	}
	console.Success("Results saved")

	if cfg.Output.JSON != "" {
		if err := output.WriteJSON(cfg.Output.JSON, rep); err != nil {
			return fmt.Errorf("writing JSON report: %w", err)
		}
	}
	if cfg.Output.Markdown != "" {
		if err := output.WriteMarkdown(cfg.Output.Markdown, rep); err != nil {
			return fmt.Errorf("writing Markdown report: %w", err)
		}
	}

	if db != nil {
		var alerter *alert.Alerter
		if cfg.Alerts.Webhook.URL != "" {
			alerter = alert.New(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Cooldown.Duration, logger, alert.WithHistory(db))
		}
		if err := recordRun(db, alerter, rep); err != nil {
			return fmt.Errorf("recording run history: %w", err)
		}
		if alerter != nil {
			alerter.Wait()
		}
	}

	printSummary(console, rep)

	if rep.Cancelled > 0 {
		return fmt.Errorf("%w: %d of %d URLs not probed", errInterrupted, rep.Cancelled, rep.Total)
	}
	return nil
}

func runWithTUI(ctx context.Context, out io.Writer, cfg *config.Config, urls []string, m *metrics.Metrics, logObserver notify.Observer, logger *slog.Logger) (dispatcher.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tui.NewProgram(tui.NewModel(len(urls), cancel), tea.WithOutput(out))
	p := prober.New(cfg.Probe,
		prober.WithObserver(notify.Multi(program, logObserver)),
		prober.WithMetrics(m),
	)
	d := dispatcher.New(p, cfg.Probe.ConcurrentScan, logger)
	d.SetMetrics(m)
	d.SetOnProgress(program.Progress)

	var rep dispatcher.Report
	done := make(chan struct{})
	go func() {
		defer close(done)
		rep = d.Run(ctx, urls)
		program.Done(rep)
	}()

	runErr := program.Run()
	if runErr != nil {
		cancel()
	}
	<-done
	if runErr != nil {
		return rep, fmt.Errorf("running progress view: %w", runErr)
	}
	return rep, nil
}

// recordRun stores every outcome of rep and alerts on URLs whose state
// differs from their previous recorded outcome.
func recordRun(db *storage.DB, alerter *alert.Alerter, rep dispatcher.Report) error {
	ctx := context.Background()
	runID, err := db.CreateRun(ctx, rep.StartedAt, rep.Total)
	if err != nil {
		return err
	}

	outcomes := make([]prober.Outcome, 0, len(rep.Active)+len(rep.Inactive))
	outcomes = append(outcomes, rep.Active...)
	outcomes = append(outcomes, rep.Inactive...)
	for _, o := range outcomes {
		if alerter != nil {
			prev, err := db.LatestOutcome(ctx, o.URL)
			if err != nil {
				return err
			}
			var prevActive *bool
			if prev != nil {
				prevActive = &prev.Active
			}
			alerter.Notify(o, prevActive)
		}
		if err := db.InsertOutcome(ctx, runID, o); err != nil {
			return err
		}
	}

	return db.FinishRun(ctx, runID, rep.FinishedAt, storage.RunCounts{
		Active:    len(rep.Active),
		Inactive:  len(rep.Inactive),
		Failed:    rep.Failed,
		Cancelled: rep.Cancelled,
	})
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("serving metrics", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
	}
}

func printBanner(o notify.Observer, total int, cfg config.Probe) {
	timeout := "none"
	if cfg.Timeout.Duration > 0 {
		timeout = cfg.Timeout.Duration.String()
	}
	o.Info("=== Scan starting ===")
	o.Info(fmt.Sprintf("Total URLs: %d", total))
	o.Info(fmt.Sprintf("Concurrency: %d", cfg.ConcurrentScan))
	o.Info(fmt.Sprintf("Timeout: %s", timeout))
	o.Info("=====================")
}

func printSummary(o notify.Observer, rep dispatcher.Report) {
	o.Info("=== Scan complete ===")
	o.Success(fmt.Sprintf("Active URLs: %d", len(rep.Active)))
	o.Error(fmt.Sprintf("Inactive URLs: %d", len(rep.Inactive)))
	if rep.Failed > 0 || rep.Cancelled > 0 {
		o.Warning(fmt.Sprintf("Failed: %d  Cancelled: %d", rep.Failed, rep.Cancelled))
	}
	o.Info("=====================")
}
