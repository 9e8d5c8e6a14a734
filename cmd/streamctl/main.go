// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Shared state set during PersistentPreRun
	logger    hclog.Logger
	rawConfig map[string]interface{}
)

var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Serve, query and bridge multiplexed streaming connections",
	Long: `streamctl runs the streaming transport from the command line.

  serve    accept connections and answer requests
  ping     connect to a server and time a request
  gateway  forward plain HTTP requests over a streaming connection`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "streamctl",
			Level:  hclog.LevelFromString(logLevel),
			Output: os.Stderr,
		})
		setupMetrics()

		rawConfig = map[string]interface{}{}
		if cfgFile != "" {
			b, err := os.ReadFile(cfgFile)
			if err != nil {
				return errors.Wrap(err, "reading config")
			}
			if err = yaml.Unmarshal(b, &rawConfig); err != nil {
				return errors.Wrapf(err, "parsing config %s", cfgFile)
			}
		}
		return nil
	},
}

// setupMetrics keeps recent metrics in memory; sending SIGUSR1 dumps them to stderr.
func setupMetrics() {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(sink)
	cfg := metrics.DefaultConfig("streamctl")
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	if _, err := metrics.NewGlobal(cfg, sink); err != nil {
		logger.Warn("metrics disabled", "error", err)
	}
}

// section returns the named subsection of the config file, or nil.
func section(name string) map[string]interface{} {
	if v, ok := rawConfig[name].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
