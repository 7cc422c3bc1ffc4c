package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/interfaces"
	"github.com/ternarybob/aranea/internal/store"
)

// configPaths allows multiple -config flags; later files override earlier ones
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	satelliteID  = flag.String("id", "", "Satellite identifier (satellite mode, generated when empty)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

// openJobStore builds the configured JobStore backend. Coordinator and
// satellites must see the same job records, so the default is the
// shared Redis store; Badger holds an exclusive directory lock and is
// only usable when a single process owns the data directory.
func openJobStore() (interfaces.JobStore, error) {
	switch config.Storage.Type {
	case "", "redis":
		return store.NewRedis(&config.Redis, logger), nil
	case "badger":
		return store.NewBadger(&config.Storage.Badger, logger)
	default:
		return nil, fmt.Errorf("unknown storage type %q", config.Storage.Type)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: aranea [flags] <coordinator|satellite>\n\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Aranea version %s\n", common.GetVersion())
		os.Exit(0)
	}

	mode := flag.Arg(0)
	if mode != "coordinator" && mode != "satellite" {
		usage()
		os.Exit(2)
	}

	// Startup order: config, CLI overrides, logger, banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("aranea.toml"); err == nil {
			configFiles = append(configFiles, "aranea.toml")
		} else if _, err := os.Stat("deployments/local/aranea.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/aranea.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *serverPort, *serverHost)
	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("mode", mode).
		Str("redis", config.Redis.Addr).
		Msg("Configuration loaded")

	switch mode {
	case "coordinator":
		err = runCoordinator()
	case "satellite":
		err = runSatellite(*satelliteID)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("mode", mode).Msg("Fatal error")
		os.Exit(1)
	}
}
