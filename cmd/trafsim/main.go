// Package main provides the CLI entrypoint for trafsim.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/trafsim/internal/api"
	"github.com/verte-zerg/trafsim/internal/config"
	"github.com/verte-zerg/trafsim/internal/controller"
	"github.com/verte-zerg/trafsim/internal/log"
	"github.com/verte-zerg/trafsim/internal/model"
	"github.com/verte-zerg/trafsim/internal/sampler"
	"github.com/verte-zerg/trafsim/internal/session"
	"github.com/verte-zerg/trafsim/internal/stats"
	"github.com/verte-zerg/trafsim/internal/statsui"
	"github.com/verte-zerg/trafsim/internal/store"
	"github.com/verte-zerg/trafsim/internal/tui"
)

const (
	defaultAddr         = "127.0.0.1:8080"
	defaultLogLevel     = "info"
	shutdownTimeout     = 5 * time.Second
	defaultFailureRate  = 0.0
	defaultTickInterval = sampler.DefaultInterval
)

var defaults = model.DefaultConfig()

var (
	simVehicles int
	simCar      float64
	simTruck    float64
	simPeak     float64
	simSignal   string
	simGreen    int
	simYellow   int
	simRed      int
	simDuration int

	runTickInterval time.Duration
	runLatency      time.Duration
	runFailureRate  float64
	runNoPersist    bool
	logLevel        string

	serveAddr string

	historySince   string
	historyLast    int
	historySession string
	historyBrowse  bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trafsim",
		Short:         "Traffic simulation session dashboard",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDashboardCmd,
	}
	addSessionFlags(rootCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Open the dashboard (default)",
		Args:  cobra.NoArgs,
		RunE:  runDashboardCmd,
	}
	addSessionFlags(runCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTemplatesCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	return rootCmd
}

func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&simVehicles, "vehicles-per-hour", defaults.VehiclesPerHour, "traffic demand (100-5000)")
	f.Float64Var(&simCar, "car", defaults.CarPercentage, "car share in percent")
	f.Float64Var(&simTruck, "truck", defaults.TruckPercentage, "truck share in percent")
	f.Float64Var(&simPeak, "peak-hour-factor", defaults.PeakHourFactor, "peak hour factor (1.0-2.0)")
	f.StringVar(&simSignal, "signal-control", string(defaults.SignalControl), "fixed_time, actuated or adaptive")
	f.IntVar(&simGreen, "green", defaults.GreenTime, "green phase in seconds")
	f.IntVar(&simYellow, "yellow", defaults.YellowTime, "yellow phase in seconds")
	f.IntVar(&simRed, "red", defaults.RedTime, "red phase in seconds")
	f.IntVar(&simDuration, "duration", defaults.SimulationDuration, "session length in seconds (0 = until stopped)")
	f.DurationVar(&runTickInterval, "tick-interval", defaultTickInterval, "time between samples")
	f.DurationVar(&runLatency, "latency", controller.DefaultLatency, "simulated backend delay for start and stop")
	f.Float64Var(&runFailureRate, "failure-rate", defaultFailureRate, "probability that start or stop fails (0-1)")
	f.BoolVar(&runNoPersist, "no-persist", false, "do not record finished sessions")
	f.StringVar(&logLevel, "log-level", defaultLogLevel, "log level")
}

// runtime is the wired object graph shared by the dashboard and the server.
type runtime struct {
	ctrl  *controller.Controller
	store *session.Store
	smp   *sampler.Sampler
	db    *store.Store
}

func (rt *runtime) close() {
	rt.store.StopSession()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rt.smp.Close(ctx); err != nil {
		logErrf("failed to stop sampler: %v\n", err)
	}
	if rt.db != nil {
		if cerr := rt.db.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}
}

func buildRuntime(cmd *cobra.Command, fileCfg config.FileConfig) (*runtime, error) {
	applyIntConfig(cmd, "vehicles-per-hour", &simVehicles, fileCfg.Simulation.VehiclesPerHour)
	applyFloatConfig(cmd, "car", &simCar, fileCfg.Simulation.CarPercentage)
	applyFloatConfig(cmd, "truck", &simTruck, fileCfg.Simulation.TruckPercentage)
	applyFloatConfig(cmd, "peak-hour-factor", &simPeak, fileCfg.Simulation.PeakHourFactor)
	applyStringConfig(cmd, "signal-control", &simSignal, fileCfg.Simulation.SignalControl)
	applyIntConfig(cmd, "green", &simGreen, fileCfg.Simulation.GreenTime)
	applyIntConfig(cmd, "yellow", &simYellow, fileCfg.Simulation.YellowTime)
	applyIntConfig(cmd, "red", &simRed, fileCfg.Simulation.RedTime)
	applyIntConfig(cmd, "duration", &simDuration, fileCfg.Simulation.SimulationDuration)
	applyDurationConfig(cmd, "tick-interval", &runTickInterval, fileCfg.Runtime.TickInterval)
	applyDurationConfig(cmd, "latency", &runLatency, fileCfg.Runtime.Latency)
	applyFloatConfig(cmd, "failure-rate", &runFailureRate, fileCfg.Runtime.FailureRate)

	if err := validateRuntimeFlags(); err != nil {
		return nil, err
	}
	control, err := model.ParseSignalControl(simSignal)
	if err != nil {
		return nil, fmt.Errorf("--signal-control: %w", err)
	}
	cfg := model.Config{
		VehiclesPerHour:    simVehicles,
		CarPercentage:      simCar,
		TruckPercentage:    simTruck,
		PeakHourFactor:     simPeak,
		SignalControl:      control,
		GreenTime:          simGreen,
		YellowTime:         simYellow,
		RedTime:            simRed,
		SimulationDuration: simDuration,
	}
	userTemplates, err := fileCfg.UserTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	rt := &runtime{}
	var opts []session.Option
	if !runNoPersist {
		db, err := store.Open(config.DefaultDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		rt.db = db
		opts = append(opts, session.WithRecorder(db))
	}
	rt.smp = sampler.New(sampler.NewRandomSource(), sampler.WithInterval(runTickInterval))
	rt.store = session.New(rt.smp, opts...)
	rt.store.SetConfig(cfg)
	rt.store.SetNetwork(model.DemoNetwork())
	rt.ctrl = controller.New(rt.store,
		controller.WithLatency(runLatency),
		controller.WithFailureRate(runFailureRate),
		controller.WithTemplates(controller.MergeTemplates(controller.BuiltinTemplates(), userTemplates)),
	)
	return rt, nil
}

func validateRuntimeFlags() error {
	if runTickInterval <= 0 {
		return fmt.Errorf("--tick-interval must be > 0")
	}
	if runLatency < 0 {
		return fmt.Errorf("--latency must be >= 0")
	}
	if runFailureRate < 0 || runFailureRate > 1 {
		return fmt.Errorf("--failure-rate must be between 0 and 1")
	}
	return nil
}

func loadFileConfig(cmd *cobra.Command) (config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return config.FileConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	return fileCfg, nil
}

func runDashboardCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	logFile, err := openLogFile(config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer func() {
		// Best-effort close of the log file.
		_ = logFile.Close()
	}()
	log.Configure(log.Config{Level: logLevel, Output: logFile})

	rt, err := buildRuntime(cmd, fileCfg)
	if err != nil {
		return err
	}
	defer rt.close()

	m := tui.NewModel(rt.ctrl)
	defer m.Close()
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the simulation API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	addSessionFlags(cmd)
	cmd.Flags().StringVar(&serveAddr, "addr", defaultAddr, "listen address")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadFileConfig(cmd)
	if err != nil {
		return err
	}
	applyStringConfig(cmd, "addr", &serveAddr, fileCfg.Server.Addr)
	log.Configure(log.Config{Level: logLevel})
	logger := log.WithComponent("serve")

	rt, err := buildRuntime(cmd, fileCfg)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := api.New(rt.ctrl)
	defer srv.Close()
	httpSrv := &http.Server{
		Addr:              serveAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpSrv.RegisterOnShutdown(srv.Close)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str(log.FieldAddr, serveAddr).Msg("listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List configuration templates",
		Args:  cobra.NoArgs,
		RunE:  runTemplatesCmd,
	}
}

func runTemplatesCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	userTemplates, err := fileCfg.UserTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	templates := controller.MergeTemplates(controller.BuiltinTemplates(), userTemplates)
	if err := stats.RenderTemplates(cmd.OutOrStdout(), templates); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().StringVar(&historySession, "session", "", "session id or prefix to chart")
	cmd.Flags().BoolVarP(&historyBrowse, "interactive", "i", false, "browse sessions in a TUI")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}
	if historyLast < 0 {
		return fmt.Errorf("--last must be >= 0")
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	filter := model.HistoryFilter{Since: sinceTime, Last: historyLast}
	if historyBrowse {
		program := tea.NewProgram(statsui.NewModel(st, filter), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run history TUI: %w", err)
		}
		return nil
	}

	out := cmd.OutOrStdout()
	if historySession == "" {
		records, err := st.ListSessions(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		return stats.RenderSessions(out, records)
	}

	rec, err := st.GetSession(ctx, historySession)
	if err != nil {
		return err
	}
	samples, err := st.ListSamples(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load samples: %w", err)
	}
	if err := stats.RenderSessions(out, []model.SessionRecord{rec}); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	opts := stats.ChartOptions{
		Width: stats.ChartWidthFor(stats.TerminalWidth()),
		Color: stats.UseColor(out),
	}
	return stats.RenderHistory(out, samples, opts)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# trafsim configuration
# Uncomment a value to enable it. CLI flags override config values.

[simulation]
# vehicles-per-hour = %d    # Traffic demand (100-5000)
# car = %.0f                 # Car share in percent
# truck = %.0f               # Truck share in percent, car + truck = 100
# peak-hour-factor = %.1f   # 1.0-2.0
# signal-control = %q   # fixed_time, actuated or adaptive
# green = %d                 # Green phase in seconds
# yellow = %d                 # Yellow phase in seconds
# red = %d                   # Red phase in seconds
# duration = %d            # Session length in seconds, 0 runs until stopped

[runtime]
# tick-interval = %q        # Time between samples
# latency = %q           # Simulated backend delay for start and stop
# failure-rate = %.1f        # Probability that start or stop fails

[log]
# level = %q             # Written to $XDG_STATE_HOME/trafsim/trafsim.log by the dashboard

[server]
# addr = %q  # Listen address for trafsim serve

# Extra templates are bound to keys after the built-ins.
# [[templates]]
# key = "school_zone"
# name = "School Zone"
# description = "Low demand with long pedestrian phases"
# [templates.simulation]
# vehicles-per-hour = 600
# car = 95
# truck = 5
# red = 45
`,
		defaults.VehiclesPerHour,
		defaults.CarPercentage,
		defaults.TruckPercentage,
		defaults.PeakHourFactor,
		string(defaults.SignalControl),
		defaults.GreenTime,
		defaults.YellowTime,
		defaults.RedTime,
		defaults.SimulationDuration,
		defaultTickInterval.String(),
		controller.DefaultLatency.String(),
		defaultFailureRate,
		defaultLogLevel,
		defaultAddr,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
