package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orlevy/toolscout/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "toolscout",
	Short:        "MCP server that recommends software tools from a curated catalog",
	SilenceUsage: true,
	Long: `Toolscout answers "what tool should I use for X" over the Model Context
Protocol. It ranks a curated catalog with vector search, interprets queries
with an LLM when one is configured, and falls back to live web search when
the catalog has no confident match.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("toolscout %s (%s)\n", version, commit)
	},
}

// initLogger builds the process logger from configuration. Logs always go
// to stderr: stdout belongs to the MCP stdio transport.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zc zap.Config
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
