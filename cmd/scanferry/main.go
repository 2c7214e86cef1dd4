package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/scanferry/scanferry/internal/log"
	"github.com/scanferry/scanferry/internal/model"
	"github.com/scanferry/scanferry/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagEnvPath      string
	flagConfigPath   string
	flagCachePath    string
	flagLogPath      string
	flagLogToConsole bool
	flagVerbose      bool
	flagProjects     []string

	runOpts  service.Options
	closeLog func() error
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagEnvPath, "env-path", "/root/.env", "Path to the environment file")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "config/config.yaml", "Path to the import configuration file")
	rootCmd.PersistentFlags().StringVar(&flagCachePath, "cache", "res/products.json", "Path to the products cache file")
	rootCmd.PersistentFlags().StringVar(&flagLogPath, "log-path", "/var/log/scanferry.log", "Path to the log file")
	rootCmd.PersistentFlags().BoolVar(&flagLogToConsole, "log-to-console", false, "Log additionally to console")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringSliceVar(&flagProjects, "projects", nil,
		"Projects to import, format '<ScanFactory project UUID>:<Defect Dojo engagement ID>'")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initFerry

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("scanferry failed", "err", err)
		if closeLog != nil {
			_ = closeLog()
		}
		os.Exit(1)
	}
	if closeLog != nil {
		_ = closeLog()
	}
}

var rootCmd = &cobra.Command{
	Use:          "scanferry",
	Short:        "Imports ScanFactory infrastructure scan reports into Defect Dojo",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run performs one discovery and import pass",
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of scanferry",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("scanferry: version info not available")
			return
		}
		fmt.Printf("scanferry: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:    %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:      %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:     %s\n", s.Value)
			}
		}
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("scanferry",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	return service.Run(ctx, runOpts)
}

// initFerry opens the log sink and loads environment and configuration. Any
// failure here is a fatal precondition: the pass never starts half set up.
func initFerry(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	w, closer, err := log.OpenSink(flagLogPath, flagLogToConsole)
	if err != nil {
		return err
	}
	closeLog = closer
	slog.SetDefault(log.New(w, flagVerbose))

	opts, err := loadOptions()
	if err != nil {
		return err
	}
	runOpts = opts

	slog.Debug("scanferry run", "configPath", flagConfigPath, "cachePath", flagCachePath)
	return nil
}

func loadOptions() (service.Options, error) {
	var zero service.Options

	v := viper.New()
	v.SetConfigFile(flagEnvPath)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return zero, fmt.Errorf("loading environment file %q: %w", flagEnvPath, err)
	}
	v.AutomaticEnv()

	source, err := model.NewSourceEnvironment(
		v.GetString("SCANFACTORY_URL"),
		v.GetString("KEYCLOAK_URL"),
		v.GetString("KEYCLOAK_REALM"),
		v.GetString("SF_USERNAME"),
		v.GetString("SF_PASSWORD"),
	)
	if err != nil {
		return zero, err
	}

	destination, err := model.NewDestinationEnvironment(
		v.GetString("DDOJO_URL"),
		v.GetString("DDOJO_TOKEN"),
	)
	if err != nil {
		return zero, err
	}

	f, err := os.Open(flagConfigPath)
	if err != nil {
		return zero, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	config, err := model.LoadConfig(f)
	if err != nil {
		return zero, fmt.Errorf("change the config file according to the documentation: %w", err)
	}

	explicit, err := model.ParseProjectPairs(flagProjects)
	if err != nil {
		return zero, err
	}

	return service.Options{
		Source:      source,
		Destination: destination,
		Config:      config,
		CachePath:   flagCachePath,
		Explicit:    explicit,
		Health: service.NewHealth(
			v.GetString("HEALTH_CHECK_URL"),
			v.GetString("HEALTH_CHECK_ENDPOINTS"),
		),
	}, nil
}
