// Package supervisor composes the child vcontrold process, the daemon
// session client, the MQTT session, the scheduler, and the subscriber into
// one running bridge, and owns its startup and shutdown sequencing.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/tma/vcontrold-mqttd/pkg/config"
	"github.com/tma/vcontrold-mqttd/pkg/daemon"
	"github.com/tma/vcontrold-mqttd/pkg/mqttsession"
	"github.com/tma/vcontrold-mqttd/pkg/process"
	"github.com/tma/vcontrold-mqttd/pkg/scheduler"
	"github.com/tma/vcontrold-mqttd/pkg/subscribe"
)

var log = logrus.WithField("component", "supervisor")

// Run spawns vcontrold, waits for it to become ready, then wires the
// session, MQTT, scheduler, and (if enabled) subscriber, and blocks until
// either something fails or a shutdown signal arrives. A non-nil error
// means the bridge stopped because of a failure; nil means a clean,
// signal-driven shutdown.
func Run(cfg *config.Config) error {
	log.Info("starting vcontrold-mqttd")
	if cfg.Debug {
		log.Info("debug mode enabled")
	}

	child, err := process.Spawn("", cfg.Debug)
	if err != nil {
		return fmt.Errorf("spawn vcontrold: %w", err)
	}

	session := daemon.Localhost()

	if err := child.WaitReady(session.IsReady); err != nil {
		child.Kill()
		return fmt.Errorf("vcontrold readiness: %w", err)
	}

	var tls *mqttsession.TLSConfig
	if cfg.MQTT.TLSEnabled {
		tls = &mqttsession.TLSConfig{
			CAFile:   cfg.MQTT.TLS.CAFile,
			CADir:    cfg.MQTT.TLS.CADir,
			CertFile: cfg.MQTT.TLS.CertFile,
			KeyFile:  cfg.MQTT.TLS.KeyFile,
			Insecure: cfg.MQTT.TLS.Insecure,
		}
	}

	var incoming chan mqttsession.IncomingMessage
	var subscribeTopics []string
	if cfg.MQTTSubscribe {
		incoming = mqttsession.NewIncomingChannel()
		subscribeTopics = []string{fmt.Sprintf("%s/request", cfg.MQTT.Topic)}
	}

	mqttCfg := mqttsession.Config{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		BaseTopic:      cfg.MQTT.Topic,
		ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
		Username:       cfg.MQTT.User,
		Password:       cfg.MQTT.Password,
		TLS:            tls,
	}
	mqtt := mqttsession.New(mqttCfg, subscribeTopics, incoming)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 4)

	go func() { done <- process.Monitor(child) }()
	go func() { done <- mqtt.Run(ctx) }()

	if sched := scheduler.New(cfg.Commands, cfg.MaxLength, session, mqtt, mqtt, cfg.MQTT.Topic, cfg.Debug); sched != nil {
		go func() { done <- sched.Run(ctx, cfg.Interval) }()
	} else {
		log.Warn("no commands configured, polling disabled")
	}

	if cfg.MQTTSubscribe {
		log.Info("request/response bridge enabled")
		sub := subscribe.New(cfg.MQTT.Topic, session, mqtt)
		go func() { done <- sub.Run(ctx, incoming) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("vcontrold-mqttd started")

	var runErr error
	select {
	case runErr = <-done:
		if runErr != nil {
			log.WithError(runErr).Error("a supervised task exited with an error")
		}
	case <-sigCh:
		log.Info("received shutdown signal")
	}

	cancel()
	child.Kill()
	session.Disconnect()

	return runErr
}
