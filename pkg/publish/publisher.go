// Package publish turns vcontrold command results into retained MQTT
// publishes, one per command.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tma/vcontrold-mqttd/pkg/codec"
)

// publishTimeout bounds a single publish attempt; a slow broker must not
// stall the polling loop indefinitely.
const publishTimeout = 5 * time.Second

// Publisher is anything that can deliver a retained message to a topic.
// Satisfied by *mqttsession.Session.
type Publisher interface {
	PublishRetained(ctx context.Context, topic, payload string) error
}

// Result publishes a single command result to "{baseTopic}/command/{name}",
// retained, skipping results that errored or carried no value. Errors are
// logged and swallowed: one failed publish must not stop the rest of the
// polling cycle.
func Result(ctx context.Context, pub Publisher, baseTopic string, result codec.CommandResult, log *logrus.Entry) {
	if result.HasError() {
		log.WithFields(logrus.Fields{
			"command": result.Command,
			"error":   result.Error,
		}).Warn("skipping publish due to error")
		return
	}

	payload, ok := payloadFor(result.Value)
	if !ok {
		log.WithField("command", result.Command).Debug("skipping publish - no value")
		return
	}

	topic := fmt.Sprintf("%s/command/%s", baseTopic, result.Command)

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := pub.PublishRetained(pctx, topic, payload); err != nil {
		log.WithError(err).WithField("command", result.Command).Warn("publish failed")
	}
}

// Results publishes every result in order, skipping as documented in Result.
func Results(ctx context.Context, pub Publisher, baseTopic string, results []codec.CommandResult, log *logrus.Entry) {
	for _, r := range results {
		Result(ctx, pub, baseTopic, r, log)
	}
}

func payloadFor(v codec.Value) (string, bool) {
	if n, ok := v.Number(); ok {
		return codec.FormatNumber(n), true
	}
	if s, ok := v.Text(); ok {
		return s, true
	}
	return "", false
}
