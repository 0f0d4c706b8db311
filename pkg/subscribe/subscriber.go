// Package subscribe implements the request/response bridge: incoming MQTT
// requests are split into vcontrold commands, executed, and answered with a
// single JSON publish.
package subscribe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tma/vcontrold-mqttd/pkg/codec"
	"github.com/tma/vcontrold-mqttd/pkg/daemon"
	"github.com/tma/vcontrold-mqttd/pkg/mqttsession"
)

const publishTimeout = 5 * time.Second

// Executor runs a batch of vcontrold commands. Satisfied by *daemon.Client.
type Executor interface {
	ExecuteBatch(commands []string) []daemon.Result
}

// Publisher publishes a non-retained response. Satisfied by
// *mqttsession.Session.
type Publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

// Subscriber bridges the request topic to vcontrold and replies on the
// response topic.
type Subscriber struct {
	baseTopic string
	vcontrold Executor
	pub       Publisher
	log       *logrus.Entry
}

// New builds a Subscriber for the given base topic.
func New(baseTopic string, vcontrold Executor, pub Publisher) *Subscriber {
	return &Subscriber{
		baseTopic: baseTopic,
		vcontrold: vcontrold,
		pub:       pub,
		log:       logrus.WithField("component", "subscriber"),
	}
}

// RequestTopic is "{baseTopic}/request".
func (s *Subscriber) RequestTopic() string {
	return fmt.Sprintf("%s/request", s.baseTopic)
}

// ResponseTopic is "{baseTopic}/response".
func (s *Subscriber) ResponseTopic() string {
	return fmt.Sprintf("%s/response", s.baseTopic)
}

// IsRequest reports whether topic is the configured request topic.
func (s *Subscriber) IsRequest(topic string) bool {
	return topic == s.RequestTopic()
}

// ParseCommands splits a comma-separated request payload into trimmed,
// non-empty command strings. Accepts single commands, comma-separated
// lists, and write commands with arguments ("setTempWWsoll 50").
func ParseCommands(payload string) []string {
	parts := strings.Split(payload, ",")
	commands := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			commands = append(commands, p)
		}
	}
	return commands
}

// Run drains incoming and, for every message on the request topic, executes
// the parsed command batch and publishes a JSON response. It returns when
// incoming is closed or ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context, incoming <-chan mqttsession.IncomingMessage) error {
	s.log.WithField("topic", s.RequestTopic()).Info("subscriber ready")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-incoming:
			if !ok {
				s.log.Warn("subscriber message channel closed")
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg mqttsession.IncomingMessage) {
	if !s.IsRequest(msg.Topic) {
		return
	}
	if strings.TrimSpace(msg.Payload) == "" {
		s.log.Debug("skipping empty request payload")
		return
	}

	s.log.WithField("payload", msg.Payload).Debug("received request")

	commands := ParseCommands(msg.Payload)
	if len(commands) == 0 {
		s.log.Warn("no valid commands in request")
		return
	}

	results := s.vcontrold.ExecuteBatch(commands)

	successful := make([]codec.CommandResult, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			s.log.WithError(r.Err).WithField("command", r.CommandResult.Command).
				Warn("command execution failed")
			continue
		}
		if r.CommandResult.HasError() {
			s.log.WithField("command", r.CommandResult.Command).
				Warnf("command returned error: %s", r.CommandResult.Error)
			continue
		}
		successful = append(successful, r.CommandResult)
	}

	if len(successful) == 0 {
		s.log.Warn("all commands failed")
		return
	}

	body, err := codec.BuildJSONResponse(successful)
	if err != nil {
		s.log.WithError(err).Error("failed to build JSON response")
		return
	}

	s.log.WithField("response", body).Debug("sending response")

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// Not retained: this is a point-in-time answer to a specific request,
	// not a persistent state value.
	if err := s.pub.Publish(pctx, s.ResponseTopic(), body); err != nil {
		s.log.WithError(err).Error("failed to publish response")
	}
}
