// Command vcontrold-mqttd runs the vcontrold-to-MQTT bridge: it spawns and
// supervises a vcontrold child process, polls configured commands onto
// MQTT, and optionally answers ad-hoc requests over a request/response
// topic pair.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tma/vcontrold-mqttd/pkg/config"
	"github.com/tma/vcontrold-mqttd/pkg/supervisor"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "vcontrold-mqttd",
		Short: "Bridge a vcontrold instance to an MQTT broker",
		RunE:  run,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := supervisor.Run(cfg); err != nil {
		logrus.WithError(err).Error("fatal error")
		os.Exit(1)
	}
	return nil
}
