// solarcrm: deal pipeline and milestone invoicing for solar installers.
//
// Usage:
//
//	solarcrm serve          # MCP server on stdio, reminder dispatcher, metrics
//	solarcrm seed           # create the default pipelines
//	solarcrm board          # show the board
//	solarcrm move ID STAGE  # move a deal, answering milestone prompts
//	solarcrm remind         # deliver due reminders
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/solarcrm/internal/config"
	sccserver "github.com/HendryAvila/solarcrm/internal/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "solarcrm",
		Short: "Deal pipeline and milestone invoicing for solar installers",
		Long: `solarcrm tracks solar installation deals through pipeline stages.

Moving a deal into a milestone stage asks for confirmation and invoices:
  Netzanfrage            +10% of value, technician handoff, 5-day reminder
  Netzbestätigung        +50% of value, invoice email
  Warenversand           invoiced set to 90%
  Montage abgeschlossen  invoiced set to 100%, documentation email

Run "solarcrm serve" to expose the CRM to an AI assistant over MCP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log.level")

	cmd.AddCommand(
		serveCmd(g),
		seedCmd(g),
		boardCmd(g),
		dealCmd(g),
		moveCmd(g),
		stageCmd(g),
		remindCmd(g),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "solarcrm v%s\n", sccserver.Version)
		},
	}
}

// setup loads the configuration and builds the logger. Logs go to stderr
// because stdout carries the MCP transport.
func (g *globals) setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// open loads the configuration and opens the application.
func (g *globals) open() (*sccserver.App, func(), error) {
	cfg, logger, err := g.setup()
	if err != nil {
		return nil, func() {}, err
	}
	return sccserver.Open(cfg, logger)
}
