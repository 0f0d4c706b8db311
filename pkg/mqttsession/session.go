// Package mqttsession wraps github.com/eclipse/paho.golang/paho into a
// single long-lived MQTT v5 connection: dialing (plain or TLS), the CONNECT
// handshake, resubscription on every reconnect, and publish with QoS 1.
package mqttsession

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout    = 10 * time.Second
	keepAliveSeconds  = 30
	reconnectBackoff  = 10 * time.Second
	incomingChanDepth = 100
)

// IncomingMessage is a message delivered on a subscribed topic.
type IncomingMessage struct {
	Topic   string
	Payload string
}

// Config describes how to reach the broker and which identity to present.
type Config struct {
	Host           string
	Port           int
	BaseTopic      string
	ClientIDPrefix string
	Username       string
	Password       string
	TLS            *TLSConfig
}

// Session owns one MQTT v5 connection, reconnecting on failure and
// resubscribing to every configured topic on each (re)connect.
type Session struct {
	cfg             Config
	clientID        string
	subscribeTopics []string
	incoming        chan<- IncomingMessage

	connected atomic.Bool

	mu     sync.Mutex
	client *paho.Client

	log *logrus.Entry
}

// New builds a Session. incoming may be nil if nothing will ever subscribe
// (publish-only deployments); subscribeTopics is resubscribed to on every
// ConnAck, matching the original's reconnect semantics.
func New(cfg Config, subscribeTopics []string, incoming chan<- IncomingMessage) *Session {
	return &Session{
		cfg:             cfg,
		clientID:        GenerateClientID(cfg.ClientIDPrefix),
		subscribeTopics: subscribeTopics,
		incoming:        incoming,
		log:             logrus.WithField("component", "mqtt"),
	}
}

// Connected reports whether the session currently holds a live connection.
// Single writer (Run's goroutine), many readers (the scheduler).
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Topic builds a full topic path under the configured base topic.
func (s *Session) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", s.cfg.BaseTopic, suffix)
}

// Run drives the connect/pump/reconnect loop until ctx is cancelled. Each
// connection attempt that fails (dial error, handshake error, or a
// mid-session disconnect) is followed by a 10s backoff before retrying, and
// is logged but never fatal.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		err := s.connectAndPump(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		s.log.WithError(err).Error("mqtt session error, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectBackoff):
		}
	}
}

// connectAndPump dials, completes the handshake, resubscribes, and then
// blocks until ctx is cancelled or the server disconnects / the
// connection errors. Returns nil only on a clean ctx-driven shutdown.
func (s *Session) connectAndPump(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	lost := make(chan error, 1)
	var signalOnce sync.Once
	signalLost := func(err error) {
		signalOnce.Do(func() {
			lost <- err
		})
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				s.forwardIncoming(pr.Packet.Topic, string(pr.Packet.Payload))
				return true, nil
			},
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.log.WithField("reason_code", d.ReasonCode).Warn("disconnected from MQTT broker")
			signalLost(fmt.Errorf("server disconnected: reason code %d", d.ReasonCode))
		},
		OnClientError: func(err error) {
			s.log.WithError(err).Error("mqtt client error")
			signalLost(err)
		},
	})

	connectPacket := &paho.Connect{
		KeepAlive:  keepAliveSeconds,
		ClientID:   s.clientID,
		CleanStart: true,
	}
	if s.cfg.Username != "" {
		connectPacket.Username = s.cfg.Username
		connectPacket.UsernameFlag = true
		if s.cfg.Password != "" {
			connectPacket.Password = []byte(s.cfg.Password)
			connectPacket.PasswordFlag = true
		}
	}

	connAck, err := client.Connect(ctx, connectPacket)
	if err != nil {
		_ = conn.Close()
		return &ConnectionFailedError{Message: "connect", Err: err}
	}
	if connAck.ReasonCode != 0 {
		_ = conn.Close()
		return &ConnectionFailedError{
			Message: fmt.Sprintf("broker refused connect: reason code %d", connAck.ReasonCode),
		}
	}

	s.log.Info("connected to MQTT broker")
	s.connected.Store(true)
	defer s.connected.Store(false)

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.client = nil
		s.mu.Unlock()
	}()

	s.resubscribeAll(ctx, client)

	select {
	case <-ctx.Done():
		_, _ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil
	case err := <-lost:
		return err
	}
}

// resubscribeAll resubscribes to every configured topic. Re-subscription on
// every (re)connect is required because the session always requests
// CleanStart, so the broker discards prior subscription state.
func (s *Session) resubscribeAll(ctx context.Context, client *paho.Client) {
	for _, topic := range s.subscribeTopics {
		s.log.WithField("topic", topic).Info("subscribing")
		if _, err := client.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		}); err != nil {
			s.log.WithError(err).WithField("topic", topic).Error("subscribe failed")
		}
	}
}

func (s *Session) forwardIncoming(topic, payload string) {
	s.log.WithFields(logrus.Fields{"topic": topic}).Debug("received message")
	if s.incoming == nil {
		return
	}
	s.incoming <- IncomingMessage{Topic: topic, Payload: payload}
}

// Publish sends a non-retained QoS 1 message.
func (s *Session) Publish(ctx context.Context, topic, payload string) error {
	return s.publish(ctx, topic, payload, false)
}

// PublishRetained sends a retained QoS 1 message.
func (s *Session) PublishRetained(ctx context.Context, topic, payload string) error {
	return s.publish(ctx, topic, payload, true)
}

func (s *Session) publish(ctx context.Context, topic, payload string, retain bool) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return &PublishFailedError{Topic: topic, Err: errors.New("not connected")}
	}

	_, err := client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Retain:  retain,
		Topic:   topic,
		Payload: []byte(payload),
	})
	if err != nil {
		return &PublishFailedError{Topic: topic, Err: err}
	}
	return nil
}

func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: connectTimeout}

	if s.cfg.TLS == nil {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &ConnectionFailedError{Message: addr, Err: err}
		}
		return conn, nil
	}

	tlsCfg, err := BuildTLSConfig(*s.cfg.TLS, s.log)
	if err != nil {
		return nil, &ConnectionFailedError{Message: "tls setup", Err: err}
	}
	tlsCfg.ServerName = s.cfg.Host

	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionFailedError{Message: addr, Err: err}
	}
	return conn, nil
}

// NewIncomingChannel allocates the buffered channel the supervisor wires
// between the session and the subscriber, matching the original's
// tokio::sync::mpsc::channel(100).
func NewIncomingChannel() chan IncomingMessage {
	return make(chan IncomingMessage, incomingChanDepth)
}
