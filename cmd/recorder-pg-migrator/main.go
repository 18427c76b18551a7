package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vitebski/recorder-pg-migrator/internal/analyzer"
	"github.com/vitebski/recorder-pg-migrator/internal/config"
	"github.com/vitebski/recorder-pg-migrator/internal/connector"
	"github.com/vitebski/recorder-pg-migrator/internal/migrator"
	"github.com/vitebski/recorder-pg-migrator/internal/utils"
)

type options struct {
	configFile    string
	envFile       string
	logLevel      string
	source        string
	checkOnly     bool
	progress      bool
	skipSequences bool
}

func main() {
	var opts options
	v := config.New()

	rootCmd := &cobra.Command{
		Use:   "recorder-pg-migrator",
		Short: "Copy a Home Assistant recorder database into PostgreSQL",
		Long: `Recorder PostgreSQL Migrator

Copies the Home Assistant recorder tables from a SQLite (or MySQL) database
into an existing PostgreSQL schema, converting boolean and binary columns on
the way, and resets the primary key sequences afterwards.`,
		Run: func(cmd *cobra.Command, args []string) {
			if code := run(cmd.Context(), v, opts); code != 0 {
				os.Exit(code)
			}
		},
	}

	// Define flags
	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Config file (default: ./recorder-pg-migrator.yaml)")
	flags.StringVarP(&opts.envFile, "env-file", "e", ".env", "Path to .env file")
	flags.StringVarP(&opts.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVarP(&opts.source, "source", "s", "", "Source SQLite file, or DSN with --source-driver mysql")
	flags.String("source-driver", "", "Source driver: sqlite or mysql (default: sqlite)")
	flags.StringP("host", "H", "", "PostgreSQL host (default: localhost)")
	flags.IntP("port", "P", 0, "PostgreSQL port (default: 5432)")
	flags.StringP("database", "d", "", "PostgreSQL database name (default: homeassistant)")
	flags.StringP("user", "u", "", "PostgreSQL user (default: homeassistant)")
	flags.StringP("password", "p", "", "PostgreSQL password")
	flags.BoolVar(&opts.checkOnly, "check-only", false, "Only check the migration plan against both schemas")
	flags.BoolVar(&opts.progress, "progress", false, "Show a progress bar while migrating")
	flags.BoolVar(&opts.skipSequences, "skip-sequences", false, "Do not reset primary key sequences after loading")

	bindFlags(v, rootCmd)

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// bindFlags maps command line flags onto configuration keys
func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	bindings := map[string]string{
		"log.level":            "log-level",
		"source.driver":        "source-driver",
		"destination.host":     "host",
		"destination.port":     "port",
		"destination.database": "database",
		"destination.user":     "user",
		"destination.password": "password",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func run(ctx context.Context, v *viper.Viper, opts options) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup logging
	logger := utils.SetupLogging(opts.logLevel)

	// Load environment variables
	utils.LoadEnvironmentVariables(opts.envFile, logger)

	cfg, err := config.Load(v, opts.configFile)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil && opts.logLevel == "" {
		logger.SetLevel(level)
	}

	applySourceFlag(cfg, opts.source)

	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		return 1
	}

	port := strconv.Itoa(cfg.Destination.Port)
	if !utils.ValidateConnectionParams(cfg.Destination.Host, cfg.Destination.User, cfg.Destination.Password, cfg.Destination.Database, port, logger) {
		return 1
	}

	source := connector.NewSourceConnector(cfg.Source.Driver, cfg.Source.Location(), logger)
	if err := source.Connect(ctx); err != nil {
		logger.Errorf("Failed to connect to source database: %v", err)
		return 1
	}
	defer source.Disconnect()

	destination := connector.NewPostgresConnector(
		cfg.Destination.Host,
		cfg.Destination.User,
		cfg.Destination.Password,
		cfg.Destination.Database,
		port,
		logger,
	)
	destination.SSLMode = cfg.Destination.SSLMode
	if cfg.SSH.Enabled() {
		destination.Tunnel = &connector.SSHTunnel{
			Host:       cfg.SSH.Host,
			Port:       cfg.SSH.Port,
			User:       cfg.SSH.User,
			KeyFile:    cfg.SSH.Key,
			KnownHosts: cfg.SSH.KnownHosts,
			Logger:     logger,
		}
	}
	if err := destination.Connect(ctx); err != nil {
		logger.Errorf("Failed to connect to destination database: %v", err)
		return 1
	}
	defer destination.Disconnect()

	plan := cfg.ToPlan()

	// Check the plan against both schemas
	planAnalyzer := analyzer.NewPlanAnalyzer(source, destination, plan, logger)
	issues, err := planAnalyzer.Analyze(ctx)
	if err != nil {
		logger.Errorf("Failed to analyze schemas: %v", err)
		return 1
	}

	if opts.checkOnly {
		utils.PrintPlanAnalysis(plan, issues)
		logger.Info("Check-only mode, exiting without migrating data")
		if len(issues) > 0 {
			return 1
		}
		return 0
	}
	if len(issues) > 0 {
		logger.Warningf("Plan check found %d issue(s), migrating anyway", len(issues))
	}

	tableMigrator := migrator.NewTableMigrator(source, destination, plan, logger)
	tableMigrator.SkipSequences = opts.skipSequences

	stopProgress := func() {}
	if opts.progress {
		tableMigrator.OnTableDone, stopProgress = utils.NewTableProgress(len(plan.Tables))
	}

	logger.Infof("Starting migration of %d tables...", len(plan.Tables))
	report, err := tableMigrator.Run(ctx)
	stopProgress()

	// Print summary
	utils.PrintSummary(report)

	if err != nil {
		logger.Errorf("Migration did not complete: %v", err)
		return 1
	}
	if report.Failed() {
		return 1
	}
	if report.Partial() {
		logger.Warning("Some rows were rejected, see the summary above")
	}
	return 0
}

// applySourceFlag stores --source as the SQLite path or the MySQL DSN, depending on the driver
func applySourceFlag(cfg *config.Config, source string) {
	if source == "" {
		return
	}
	if cfg.Source.Driver == connector.DriverMySQL {
		cfg.Source.DSN = source
	} else {
		cfg.Source.Path = source
	}
}
