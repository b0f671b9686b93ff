package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
	"github.com/physiosim/physiosim/sim/trace"
)

var (
	// CLI flags for the run
	logLevel       string  // Log verbosity level
	seed           int64   // Seed for the stochastic vitals
	horizon        float64 // Simulated seconds to run
	realTimeFactor float64 // Simulated seconds per wall second
	outputInterval float64 // Simulated seconds between vitals frames
	vitalsWindow   float64 // Rolling-average window in simulated seconds

	// CLI flags for input files
	profilePath    string // Patient profile YAML
	eventsPath     string // Scheduled events YAML
	alarmsPath     string // Alarm limits YAML
	alarmProfile   string // Built-in alarm limit set
	resumePath     string // Checkpoint to resume from
	checkpointPath string // Checkpoint written when the run ends
	traceLevel     string // What the in-memory trace records

	// CLI flags overriding the PHYSIOSIM_* sink environment
	natsURL     string
	wsAddr      string
	metricsAddr string
	sqlitePath  string
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "physiosim",
	Short: "Physiological digital twin with vital sign alarms",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runOptions is everything a run needs, resolved from flags and environment.
type runOptions struct {
	Engine         sim.EngineConfig
	Horizon        float64
	Profile        string
	Events         string
	Alarms         string
	AlarmProfile   string
	Resume         string
	SaveCheckpoint string
	Trace          trace.TraceLevel
	Sinks          SinkConfig
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the physiological simulation",
	Run: func(cmd *cobra.Command, args []string) {
		sinkCfg, err := LoadSinkConfig()
		if err != nil {
			logrus.Fatalf("Invalid sink environment: %v", err)
		}
		if cmd.Flags().Changed("nats") {
			sinkCfg.NATSURL = natsURL
		}
		if cmd.Flags().Changed("ws-addr") {
			sinkCfg.WebSocketAddr = wsAddr
		}
		if cmd.Flags().Changed("metrics-addr") {
			sinkCfg.MetricsAddr = metricsAddr
		}
		if cmd.Flags().Changed("sqlite") {
			sinkCfg.SQLitePath = sqlitePath
		}
		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s", traceLevel)
		}

		engineCfg := sim.DefaultEngineConfig()
		engineCfg.Seed = seed
		engineCfg.Pacing.RealTimeFactor = realTimeFactor
		engineCfg.Output.Interval = outputInterval
		engineCfg.Output.Window = vitalsWindow

		opts := runOptions{
			Engine:         engineCfg,
			Horizon:        horizon,
			Profile:        profilePath,
			Events:         eventsPath,
			Alarms:         alarmsPath,
			AlarmProfile:   alarmProfile,
			Resume:         resumePath,
			SaveCheckpoint: checkpointPath,
			Trace:          trace.TraceLevel(traceLevel),
			Sinks:          sinkCfg,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runSimulation(ctx, opts, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// runSimulation wires the engine, the alarm engine, the trace and the output sinks,
// runs to the horizon or until ctx is done, and prints a summary to out.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	alarmCfg, err := loadAlarmConfig(opts.Alarms, opts.AlarmProfile)
	if err != nil {
		return err
	}
	alarms, err := alarm.NewEngine(alarmCfg)
	if err != nil {
		return err
	}
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: opts.Trace})
	alarmSink := alarm.NewSink(alarms, st)

	outputs, err := openSinks(opts.Sinks)
	if err != nil {
		return err
	}
	defer outputs.Close()
	for _, l := range outputs.listeners {
		alarmSink.AddListener(l)
	}
	sinks := append([]sim.Sink{st, alarmSink}, outputs.sinks...)

	engine, err := buildEngine(opts, sinks)
	if err != nil {
		return err
	}

	logrus.Infof("Starting simulation: horizon=%gs, interval=%gs, window=%gs, rtf=%g, seed=%d",
		opts.Horizon, opts.Engine.Output.Interval, opts.Engine.Output.Window,
		opts.Engine.Pacing.RealTimeFactor, opts.Engine.Seed)
	started := time.Now()
	if err := engine.Run(ctx); err != nil {
		return err
	}

	if opts.SaveCheckpoint != "" {
		if err := sim.SaveCheckpoint(opts.SaveCheckpoint, engine.Checkpoint()); err != nil {
			return err
		}
		logrus.Infof("Checkpoint written to %s", opts.SaveCheckpoint)
	}
	printSummary(out, engine, alarms, trace.Summarize(st), time.Since(started))
	return nil
}

// buildEngine creates the engine from a profile, or from a checkpoint when resuming.
// The horizon counts from the resume point.
func buildEngine(opts runOptions, sinks []sim.Sink) (*sim.Engine, error) {
	var events []sim.ScheduledEvent
	if opts.Events != "" {
		var err error
		if events, err = sim.LoadEvents(opts.Events); err != nil {
			return nil, err
		}
	}

	cfg := opts.Engine
	if opts.Resume != "" {
		cp, err := sim.LoadCheckpoint(opts.Resume)
		if err != nil {
			return nil, err
		}
		if opts.Horizon > 0 {
			cfg.Horizon = cp.Time + opts.Horizon
		}
		e, err := sim.RestoreEngine(cp, cfg, sim.WithSinks(sinks...))
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			ev.LastEmission += cp.Time
			if err := e.Schedule(ev); err != nil {
				return nil, err
			}
		}
		logrus.Infof("Resumed from %s at t=%.3fs", opts.Resume, cp.Time)
		return e, nil
	}

	profile := sim.DefaultProfile()
	if opts.Profile != "" {
		var err error
		if profile, err = sim.LoadProfile(opts.Profile); err != nil {
			return nil, err
		}
	}
	store, err := profile.Store()
	if err != nil {
		return nil, err
	}
	modes, err := profile.InitialModes()
	if err != nil {
		return nil, err
	}
	cfg.Horizon = opts.Horizon
	logrus.Infof("Loaded profile %q (%d parameters)", profile.PatientID, len(store.Names()))
	return sim.NewEngine(store, cfg, sim.WithModes(modes), sim.WithEvents(events...), sim.WithSinks(sinks...))
}

// loadAlarmConfig reads the alarm limits file, or falls back to a built-in profile.
func loadAlarmConfig(path, profile string) (alarm.Config, error) {
	if path != "" {
		return alarm.LoadConfig(path)
	}
	return alarm.Profile(profile)
}

// printSummary displays the end-of-run vitals and alarm statistics.
func printSummary(w io.Writer, e *sim.Engine, alarms *alarm.Engine, s *trace.TraceSummary, wall time.Duration) {
	stats := e.SolverStats()
	fmt.Fprintln(w, "=== Simulation Summary ===")
	fmt.Fprintf(w, "Simulated Time       : %.2f s\n", e.Time())
	fmt.Fprintf(w, "Steps                : %d\n", e.Steps())
	fmt.Fprintf(w, "Wall Time            : %s\n", wall.Round(time.Millisecond))
	fmt.Fprintf(w, "Solver Evaluations   : %d (%d switches)\n", stats.Evaluations, stats.Switches)
	if s.Frames > 0 {
		fmt.Fprintf(w, "Vitals Frames        : %d\n", s.Frames)
		for _, name := range sim.VitalNames {
			v, ok := s.Vitals[name]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %-18s : mean %.1f  min %.1f  max %.1f\n", name, v.Mean, v.Min, v.Max)
		}
	}
	fmt.Fprintf(w, "Alarm Activations    : %d\n", sumLevels(s.Activations))
	fmt.Fprintf(w, "Alarm Resolutions    : %d\n", s.Resolutions)
	active := alarms.ActiveAlarms()
	fmt.Fprintf(w, "Active Alarms        : %d\n", len(active))
	for _, ev := range active {
		fmt.Fprintf(w, "  [%s] %s\n", ev.Priority, ev.Message)
	}
}

func sumLevels(m map[alarm.Level]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for the stochastic vitals")
	runCmd.Flags().Float64Var(&horizon, "horizon", 60, "Simulated seconds to run (0 runs until interrupted)")
	runCmd.Flags().Float64Var(&realTimeFactor, "rtf", 0, "Simulated seconds per wall second (0 runs unpaced)")
	runCmd.Flags().Float64Var(&outputInterval, "interval", 1, "Simulated seconds between vitals frames")
	runCmd.Flags().Float64Var(&vitalsWindow, "window", 5, "Rolling-average window for vitals, in simulated seconds")

	// Input files
	runCmd.Flags().StringVar(&profilePath, "profile", "", "Patient profile YAML (default: built-in healthy adult)")
	runCmd.Flags().StringVar(&eventsPath, "events", "", "Scheduled events YAML")
	runCmd.Flags().StringVar(&alarmsPath, "alarms", "", "Alarm limits YAML (overrides --alarm-profile)")
	runCmd.Flags().StringVar(&alarmProfile, "alarm-profile", alarm.ProfileAdult, "Built-in alarm limits (adult, pediatric, neonatal)")
	runCmd.Flags().StringVar(&resumePath, "resume", "", "Checkpoint to resume from")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Write a checkpoint here when the run ends")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.TraceLevelVitals), "Trace level (none, alarms, vitals)")

	// Output sinks
	runCmd.Flags().StringVar(&natsURL, "nats", "", "NATS server URL for vitals and alarm publishing")
	runCmd.Flags().StringVar(&wsAddr, "ws-addr", "", "Listen address for the WebSocket vitals stream")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for the Prometheus endpoint")
	runCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite file persisting vitals and alarm events")

	// Attach subcommands to `root`
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(defaultProfileCmd)
}
