package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/logger"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"wintrust/internal/config"
	"wintrust/internal/handlers"
)

const programName = "wintrust"

var (
	globalFlags = struct {
		debug      bool
		listenAddr string
	}{}
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "World ID gated raffle service",
		SilenceUsage: true,
		RunE:         serveRun,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.listenAddr, "listen", "", "address to listen on, overrides the config")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalFlags.debug {
			cfg.Debug = true
		}
		if globalFlags.listenAddr != "" {
			cfg.ListenAddr = globalFlags.listenAddr
		}

		initLogging(cfg.Debug, os.Stderr)
		if _, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
			logger.Warningf("setting GOMAXPROCS: %v", err)
		}
		logger.Infof("%s version %s", programName, handlers.Version)

		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogging sends every level to w; debug also copies info and warnings
// to stdout.
func initLogging(debug bool, w io.Writer) *logger.Logger {
	return logger.Init(programName, debug, false, w)
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", programName, handlers.Version)
		},
	}
}
