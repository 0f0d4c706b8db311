// Package daemon implements the persistent TCP session client for
// vcontrold: connect/reconnect, prompt-framed command execution, and the
// readiness probe used by the child supervisor.
package daemon

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tma/vcontrold-mqttd/pkg/codec"
)

// DefaultPort is the default vcontrold TCP port.
const DefaultPort = 3002

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Client owns a single persistent TCP connection to vcontrold. At most one
// command executes at a time; callers are serialized by mu, which guards
// the connection slot.
type Client struct {
	host string
	port int

	connectTimeout time.Duration
	readTimeout    time.Duration

	mu   sync.Mutex
	conn net.Conn

	log *logrus.Entry
}

// New returns a client for the given host/port. It does not connect until
// the first command is executed.
func New(host string, port int) *Client {
	return &Client{
		host:           host,
		port:           port,
		connectTimeout: defaultConnectTimeout,
		readTimeout:    defaultReadTimeout,
		log:            logrus.WithField("component", "daemon"),
	}
}

// Localhost returns a client for 127.0.0.1:DefaultPort.
func Localhost() *Client {
	return New("127.0.0.1", DefaultPort)
}

// Execute validates cmd, ensures a connection, sends the command, and reads
// the response up to the next prompt. On any I/O error, timeout, or
// end-of-stream it clears the stored connection so the next call dials
// anew.
func (c *Client) Execute(cmd string) (codec.CommandResult, error) {
	if err := codec.ValidateCommand(cmd); err != nil {
		return codec.CommandResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dialAndAwaitPrompt()
		if err != nil {
			return codec.CommandResult{}, err
		}
		c.conn = conn
	}

	line, err := codec.FormatCommand(cmd)
	if err != nil {
		return codec.CommandResult{}, err
	}

	c.log.WithField("command", cmd).Debug("sending command")
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.closeLocked()
		return codec.CommandResult{}, fmt.Errorf("write command: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		c.closeLocked()
		return codec.CommandResult{}, fmt.Errorf("set read deadline: %w", err)
	}

	var buffer string
	err = codec.ReadUntilPrompt(c.conn, &buffer)
	if err != nil {
		c.closeLocked()
		if isTimeout(err) {
			// The timeout branch must invalidate the connection: unread
			// bytes from the slow response would otherwise frame the next
			// command incorrectly.
			return codec.CommandResult{}, &TimeoutError{Op: "read response"}
		}
		return codec.CommandResult{}, err
	}

	response, _ := codec.ExtractResponse(buffer)
	c.log.WithField("command", cmd).Debug("received response")
	return codec.ParseResponse(cmd, response), nil
}

// ExecuteBatch runs Execute sequentially for each command name, collecting
// results (or errors) in order. A failure on one command does not stop the
// rest of the batch.
func (c *Client) ExecuteBatch(commands []string) []Result {
	results := make([]Result, 0, len(commands))
	for _, cmd := range commands {
		res, err := c.Execute(cmd)
		results = append(results, Result{CommandResult: res, Err: err})
	}
	return results
}

// Result pairs a CommandResult with the error from executing it, if any.
type Result struct {
	CommandResult codec.CommandResult
	Err           error
}

// Disconnect best-effort sends quit and drops the connection. It never
// fails.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.log.Debug("disconnecting")
	_, _ = c.conn.Write([]byte(codec.FormatQuit()))
	c.closeLocked()
}

// IsReady opens a fresh connection, waits for the initial prompt, sends
// quit, and drops the connection. It never leaves state behind and is used
// by the child supervisor's readiness probe, which issues quit on every
// attempt so vcontrold doesn't accumulate abandoned connections.
func (c *Client) IsReady() bool {
	conn, err := c.dialAndAwaitPrompt()
	if err != nil {
		c.log.WithError(err).Debug("readiness check failed")
		return false
	}
	_, _ = conn.Write([]byte(codec.FormatQuit()))
	_ = conn.Close()
	return true
}

func (c *Client) dialAndAwaitPrompt() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
	if err != nil {
		return nil, &ConnectionFailedError{Message: addr, Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		_ = conn.Close()
		return nil, &ConnectionFailedError{Message: "set read deadline", Err: err}
	}

	var buffer string
	if err := codec.ReadUntilPrompt(conn, &buffer); err != nil {
		_ = conn.Close()
		if isTimeout(err) {
			return nil, &TimeoutError{Op: "await initial prompt"}
		}
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

// closeLocked drops the current connection. Caller must hold mu.
func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
