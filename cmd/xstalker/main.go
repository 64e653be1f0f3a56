package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/internal/config"
	"github.com/lereldarion/xstalker/internal/daemon"
	"github.com/lereldarion/xstalker/internal/database"
	"github.com/lereldarion/xstalker/internal/logging"
	"github.com/lereldarion/xstalker/internal/metrics"
	"github.com/lereldarion/xstalker/internal/query"
	"github.com/lereldarion/xstalker/internal/reporter"
	"github.com/lereldarion/xstalker/internal/tracker"
	"github.com/lereldarion/xstalker/internal/web"
	"github.com/lereldarion/xstalker/pkg/integrations/x11"
	"github.com/lereldarion/xstalker/pkg/utils"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		startDaemon(false)
	case "serve":
		startDaemon(true)
	case "foreground":
		runForeground()
	case "stop":
		stopDaemon()
	case "status":
		showStatus()
	case "report":
		generateReport()
	case "rules":
		rulesCommand()
	case "clear":
		clearStore()
	case "version":
		fmt.Printf("xstalker version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`xstalker - window activity tracker

Usage:
  xstalker <command> [options]

Commands:
  start              Start the tracking daemon
  serve              Start the daemon with the web query API
  foreground         Run the engine attached to the terminal
  stop               Stop the tracking daemon
  status             Show daemon, store and focused-window status
  report [period]    Generate a time report (day, week, month; --json)
  rules check        Validate the classification rules file
  rules reload       Ask the running daemon to reload its rules
  clear              Delete all recorded data
  version            Show version information
  help               Show this help message

Options:
  --config <path>    Configuration file (default: none, built-ins + env)

Examples:
  xstalker start
  xstalker report week --json
  xstalker rules check
  xstalker stop

Environment Variables:
  XSTALKER_CONFIG                   Configuration file path
  XSTALKER_DATABASE__PATH           Database file path
  XSTALKER_TRACKER__SLOT_WIDTH      Bucket granularity (e.g. 1h, 30m, 1d)
  XSTALKER_TRACKER__IDLE_TIMEOUT    Inactivity before tracking pauses
  XSTALKER_CLASSIFIER__RULES_PATH   Classification rules file
  XSTALKER_WEB__PORT                Web API port

Version: %s
`, version)
}

// fatalf prints to stderr and exits non-zero. One-shot commands report
// errors this way; the engine path logs through zerolog first.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// configPath extracts --config from args, falling back to the
// XSTALKER_CONFIG environment variable.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return os.Getenv("XSTALKER_CONFIG")
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath(os.Args[2:]))
	if err != nil {
		fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

func startDaemon(withWeb bool) {
	cfg := loadConfig()

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fatalf("Failed to check daemon status: %v", err)
	}
	if running {
		fatalf("Daemon is already running (pid %d)", pid)
	}

	if !daemon.IsChild() {
		childPID, err := daemon.Spawn(os.Args[1:])
		if err != nil {
			fatalf("Failed to start daemon: %v", err)
		}
		fmt.Printf("Daemon started (pid %d)\n", childPID)
		if withWeb {
			fmt.Printf("Web API: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
		}
		fmt.Printf("Logs: %s\n", daemonLogPath(cfg))
		return
	}

	// Detached child has no terminal; log to a file.
	cfg.Log.File = daemonLogPath(cfg)

	if err := runEngine(cfg, dm, withWeb); err != nil {
		fatalf("Engine error: %v", err)
	}
}

func daemonLogPath(cfg *config.Config) string {
	if cfg.Log.File != "" {
		return cfg.Log.File
	}
	return fmt.Sprintf("/tmp/xstalker-%d.log", os.Getuid())
}

func runForeground() {
	cfg := loadConfig()

	dm := daemon.New(cfg.Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		fatalf("Failed to check daemon status: %v", err)
	}
	if running {
		fatalf("Daemon is already running (pid %d)", pid)
	}

	if err := runEngine(cfg, dm, cfg.Web.Enabled); err != nil {
		fatalf("Engine error: %v", err)
	}
}

// runEngine wires the full pipeline and blocks until shutdown: store
// recovery, rules, X11 source, tracking engine, optional web API.
func runEngine(cfg *config.Config, dm *daemon.Daemon, withWeb bool) error {
	log, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}

	if !x11.IsAvailable() {
		return errors.New("no X display available (DISPLAY is not set)")
	}

	db, quarantined, err := database.ConnectWithRecovery(cfg.Database.Path, logging.Named(log, "database"))
	if err != nil {
		return err
	}
	defer db.Close()
	if quarantined != "" {
		log.Warn().Str("quarantined", quarantined).
			Msg("unreadable database moved aside, starting fresh")
	}

	rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		return err
	}
	classifier := classify.New(rules)
	log.Info().Int("rules", classifier.RuleCount()).
		Str("path", cfg.Classifier.RulesPath).Msg("classification rules loaded")

	if err := dm.WritePID(); err != nil {
		return err
	}
	defer dm.RemovePID()

	repo := database.NewRepository(db)
	m := metrics.New()
	source := x11.NewSource(cfg.Tracker.IdleTimeout, logging.Named(log, "x11"))
	engine := tracker.NewService(cfg, repo, classifier, source, m, logging.Named(log, "tracker"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var webServer *web.Server
	if withWeb {
		q := query.NewService(repo, engine.Table())
		handler := web.NewHandler(q, classifier, engine)
		webServer = web.NewServer(cfg, handler, 0, logging.Named(log, "web"))
		go func() {
			if err := webServer.Start(); err != nil {
				log.Error().Err(err).Msg("web server error")
			}
		}()
		log.Info().Str("address", webServer.Address()).Msg("web api listening")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				reloadRules(cfg, classifier, log)
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			engine.Stop()
			return
		}
	}()

	log.Info().Str("version", version).Msg("xstalker starting")
	log.Debug().Msg(cfg.String())

	runErr := engine.Start(ctx)

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("web server shutdown error")
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("engine terminated with error")
		return runErr
	}
	log.Info().Msg("xstalker stopped")
	return nil
}

func reloadRules(cfg *config.Config, classifier *classify.Classifier, log zerolog.Logger) {
	rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Classifier.RulesPath).
			Msg("rules reload failed, keeping the active set")
		return
	}
	old := classifier.Swap(rules)
	log.Info().Int("rules", rules.Len()).Int("previous", old.Len()).
		Msg("classification rules reloaded")
}

func stopDaemon() {
	cfg := loadConfig()
	dm := daemon.New(cfg.Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		fatalf("Failed to check daemon status: %v", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return
	}

	fmt.Printf("Stopping daemon (pid %d)...\n", pid)
	if err := dm.Stop(); err != nil {
		fatalf("Failed to stop daemon: %v", err)
	}
	fmt.Println("Daemon stopped")
}

func showStatus() {
	cfg := loadConfig()
	dm := daemon.New(cfg.Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		fatalf("Failed to check daemon status: %v", err)
	}

	if running {
		fmt.Printf("Status: Running (pid %d)\n", pid)
	} else {
		fmt.Println("Status: Not running")
	}
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Printf("Slot width: %s\n", cfg.Tracker.SlotWidth)

	showStoreStatus(cfg)
	showFocusStatus(cfg)
}

func showStoreStatus(cfg *config.Config) {
	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fmt.Printf("\nCould not open store: %v\n", err)
		return
	}
	defer db.Close()

	repo := database.NewRepository(db)
	stats, err := repo.Stats()
	if err != nil {
		fmt.Printf("\nCould not read store stats: %v\n", err)
		return
	}

	fmt.Printf("\nStore:\n")
	fmt.Printf("  Intervals:   %d\n", stats.Intervals)
	fmt.Printf("  Buckets:     %d\n", stats.Buckets)
	fmt.Printf("  Cursor:      %d\n", stats.Cursor)
	fmt.Printf("  Quarantined: %d\n", stats.Quarantined)
	fmt.Printf("  Rejected:    %d\n", stats.Rejected)

	if latest, err := repo.LatestInterval(); err == nil && latest != nil {
		fmt.Printf("  Last interval: %s for %s, ended %s\n",
			latest.Category,
			utils.FormatRoundedUnit(latest.EndAt.Sub(latest.StartAt)),
			latest.EndAt.Local().Format(time.RFC3339))
	}
}

func showFocusStatus(cfg *config.Config) {
	if !x11.IsAvailable() {
		return
	}

	id, err := x11.Prober{}.Probe(context.Background())
	if err != nil {
		fmt.Printf("\nCould not probe focused window: %v\n", err)
		return
	}

	fmt.Printf("\nFocused Window:\n")
	fmt.Printf("  App:   %s\n", id.AppName)
	fmt.Printf("  Class: %s\n", id.Class)
	fmt.Printf("  Title: %s\n", id.Title)

	if rules, err := classify.LoadRules(cfg.Classifier.RulesPath); err == nil {
		fmt.Printf("  Category: %s\n", rules.Classify(id))
	}
}

// parseReportArgs pulls the period and --json flag out of the report
// command's arguments, skipping --config.
func parseReportArgs(args []string) (string, bool) {
	period := "day"
	jsonOut := false
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--json":
			jsonOut = true
		case arg == "--config":
			i++
		case strings.HasPrefix(arg, "--"):
		default:
			period = arg
		}
	}
	return period, jsonOut
}

func generateReport() {
	period, jsonOut := parseReportArgs(os.Args[2:])
	cfg := loadConfig()

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	q := query.NewStoreService(repo, cfg.Tracker.Slot())
	rep := reporter.New(q)

	report, err := rep.GenerateReport(period)
	if err != nil {
		fatalf("Failed to generate report: %v", err)
	}

	if jsonOut {
		jsonStr, err := rep.FormatReportJSON(report)
		if err != nil {
			fatalf("Failed to format JSON: %v", err)
		}
		fmt.Println(jsonStr)
		return
	}
	fmt.Println(rep.FormatReportText(report))
}

func rulesCommand() {
	sub := ""
	if len(os.Args) > 2 {
		sub = os.Args[2]
	}

	switch sub {
	case "check":
		checkRules()
	case "reload":
		reloadDaemonRules()
	default:
		fmt.Println("Usage: xstalker rules <check|reload>")
		os.Exit(1)
	}
}

func checkRules() {
	cfg := loadConfig()

	rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
	if err != nil {
		fatalf("Rules check failed: %v", err)
	}

	categories := rules.Categories()
	fmt.Printf("OK: %d rules, %d categories (%s)\n",
		rules.Len(), len(categories), cfg.Classifier.RulesPath)
	for _, category := range categories {
		fmt.Printf("  - %s\n", category)
	}
}

func reloadDaemonRules() {
	cfg := loadConfig()
	dm := daemon.New(cfg.Daemon.PIDFile)

	if err := dm.Reload(); err != nil {
		fatalf("Failed to reload rules: %v", err)
	}
	fmt.Println("Reload signal sent")
}

func clearStore() {
	cfg := loadConfig()

	fmt.Print("This will delete all recorded activity. Are you sure? (yes/no): ")
	var response string
	fmt.Scanln(&response)

	if response != "yes" && response != "y" {
		fmt.Println("Operation cancelled")
		return
	}

	db, err := database.Connect(cfg.Database.Path)
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	if err := repo.Clear(); err != nil {
		fatalf("Failed to clear store: %v", err)
	}
	fmt.Println("Store cleared")
}
