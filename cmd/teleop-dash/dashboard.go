package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"teleop-dash/internal/config"
	"teleop-dash/internal/logging"
	"teleop-dash/internal/metrics"
	"teleop-dash/internal/session"
	"teleop-dash/internal/tui"
)

var (
	dashHeadless bool
	dashEndpoint string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Connect to a robot and run the dashboard",
	Long:  "dashboard opens the data, image and setting channels to the robot. It renders a terminal UI when STDOUT is a terminal and emits JSON lines otherwise.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if dashEndpoint != "" {
			cfg.Endpoint = dashEndpoint
		}
		headless := dashHeadless || !term.IsTerminal(int(os.Stdout.Fd()))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runDashboard(ctx, cfg, headless, os.Stdout, os.Stderr)
	},
}

// runDashboard runs one session until ctx is cancelled or the UI quits.
func runDashboard(ctx context.Context, cfg *config.Config, headless bool, stdout, stderr io.Writer) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	fallback := stderr
	if !headless {
		fallback = io.Discard
	}
	log, closeLog, err := logging.Open(cfg.LogFile, level, fallback)
	if err != nil {
		return err
	}
	defer closeLog()
	ctx = logging.NewContext(ctx, log)

	m := metrics.New()
	var jsonOut io.Writer
	if headless {
		jsonOut = stdout
	}
	out, cleanup, err := newSink(cfg, jsonOut, log, func(error) { m.SinkError() })
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("[Main] metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("[Main] metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	sess, err := session.New(session.Options{
		Origin:       cfg.Endpoint,
		Policy:       cfg.Reconnect,
		Reconcile:    cfg.Reconcile.Options(),
		LogCapacity:  cfg.LogCapacity,
		TickInterval: cfg.RecordingTick,
		Settings:     cfg.Dataset,
		Sink:         out,
		Metrics:      m,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !headless {
		dash := tui.New(sess, sess.Snapshot(), cancel)
		sess.Subscribe(dash.Update)
		defer dash.Close()
	}

	err = sess.Run(ctx)
	log.Info("[Main] dashboard stopped", "session", sess.ID())
	return err
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func init() {
	dashboardCmd.Flags().BoolVar(&dashHeadless, "headless", false, "Emit JSON lines instead of the terminal UI")
	dashboardCmd.Flags().StringVar(&dashEndpoint, "endpoint", "", "Robot origin (overrides config and TELEOP_ENDPOINT)")
}
