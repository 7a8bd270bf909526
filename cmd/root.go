package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maastricht-university/edmo-mood/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// v collects env and flag overrides on top of the config file.
	v = config.NewViper()
	// conf is the effective configuration, loaded before any subcommand runs.
	conf *config.Root
	log  = logrus.New()

	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:           "edmo-mood",
	Short:         "Emotion signal for the EDMO presentation layer",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		conf = c
		return setupLogger(log, c.Pipeline.LogLvl, logJSON)
	},
}

func setupLogger(l *logrus.Logger, level string, asJSON bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)
	l.SetOutput(os.Stderr)
	if asJSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config.yaml (default: config/$CONFIG_ENV/config.yaml, then ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("mode", "", "detection mode: fallback-only or primary-first")
	pf.String("input", "", "ffmpeg input or camera device (overrides camera.input)")
	pf.String("format", "", "ffmpeg demuxer, or gocv (overrides camera.format)")
	pf.Int("interval-ms", 0, "poll interval in milliseconds (overrides detection.interval_ms)")
	pf.BoolVar(&logJSON, "log-json", false, "emit logs as JSON")

	v.BindPFlag("config", pf.Lookup("config"))
	v.BindPFlag("pipeline.log_level", pf.Lookup("log-level"))
	v.BindPFlag("detection.mode", pf.Lookup("mode"))
	v.BindPFlag("camera.input", pf.Lookup("input"))
	v.BindPFlag("camera.format", pf.Lookup("format"))
	v.BindPFlag("detection.interval_ms", pf.Lookup("interval-ms"))
}
