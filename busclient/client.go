// Package busclient manages the NATS connection for the monitoring pipeline
// with a circuit breaker, JetStream acknowledged publishing for at-least-once
// topics, and a KV bucket for retained latest-value topics.
package busclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ola-oye/VitaBand/errors"
)

// ConnectionStatus represents the state of the bus connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error values
var (
	ErrCircuitOpen = stderrors.New("circuit breaker is open")
)

// Topology names for the health pipeline
const (
	StreamName      = "HEALTH"
	StreamSubjects  = "health.>"
	RetainedBucket  = "health_retained"
	dedupWindowSize = 2 * time.Minute
)

// Client manages the NATS connection with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	clientName string

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new bus client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		// Sensible defaults
		maxReconnects:    -1, // infinite by default
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created bus client for %s", url)

	return c, nil
}

// URL returns the broker URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current circuit backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages the circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures >= m.circuitThreshold {
		currentStatus := m.Status()

		if currentStatus != StatusCircuitOpen {
			// Only one goroutine wins the transition
			if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
				currentBackoff := m.backoff.Load().(time.Duration)
				newBackoff := currentBackoff * 2
				if newBackoff > m.maxBackoff {
					newBackoff = m.maxBackoff
				}
				m.backoff.Store(newBackoff)

				m.logger.Printf(
					"Circuit breaker opened after %d failures, backing off for %v",
					circuitFailures,
					currentBackoff,
				)

				m.circuitFailures.Store(0)

				time.AfterFunc(currentBackoff, m.testCircuit)
			}
		} else {
			// Failures continue while circuit is open; keep growing the backoff
			currentBackoff := m.backoff.Load().(time.Duration)
			newBackoff := currentBackoff * 2
			if newBackoff > m.maxBackoff {
				newBackoff = m.maxBackoff
			}
			m.backoff.Store(newBackoff)

			m.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)

			m.circuitFailures.Store(0)
		}
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit moves an open circuit back to disconnected so the next
// connection attempt is allowed through
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
		m.setStatus(StatusDisconnected)
	}
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// Connect establishes the connection and ensures the health topology exists
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	m.mu.RLock()
	existing := m.conn
	m.mu.RUnlock()
	if existing != nil && existing.IsConnected() {
		return nil
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to bus at %s", m.url)

	opts := m.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		m.mu.Lock()
		if m.conn != nil {
			// Drop the stale handle from an earlier attempt
			m.conn.Close()
		}
		m.conn = conn
		m.js = js
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.recordFailure()
			if m.Status() != StatusCircuitOpen {
				m.setStatus(StatusDisconnected)
			}
			if m.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.recordFailure()
		if m.Status() != StatusCircuitOpen {
			m.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	if err := m.ensureTopology(ctx); err != nil {
		m.recordFailure()
		m.setStatus(StatusDisconnected)
		return err
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()

	m.logger.Printf("Successfully connected to bus at %s", m.url)
	return nil
}

// ensureTopology creates the HEALTH stream and retained KV bucket if absent
func (m *Client) ensureTopology(ctx context.Context) error {
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()

	if js == nil {
		return errors.Wrap(errors.ErrNotConnected, "Client", "ensureTopology", "jetstream unavailable")
	}

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{StreamSubjects},
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: dedupWindowSize,
		MaxAge:     24 * time.Hour,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "ensureTopology", "create stream")
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  RetainedBucket,
		History: 1,
	})
	if err != nil {
		if !isAlreadyExistsError(err) {
			return errors.WrapTransient(err, "Client", "ensureTopology", "create retained bucket")
		}
		kv, err = js.KeyValue(ctx, RetainedBucket)
		if err != nil {
			return errors.WrapTransient(err, "Client", "ensureTopology", "open retained bucket")
		}
	}

	m.mu.Lock()
	m.kv = kv
	m.mu.Unlock()

	return nil
}

// Publish publishes fire-and-forget on a core NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNotConnected
	}

	return conn.Publish(subject, data)
}

// PublishAck publishes to the stream and waits for the broker's ack.
// A non-empty msgID enables broker-side deduplication inside the stream's
// duplicate window, which is how exactly-once topics avoid redelivery
// duplicates after a crash.
func (m *Client) PublishAck(ctx context.Context, subject, msgID string, data []byte) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.mu.RLock()
	js := m.js
	conn := m.conn
	m.mu.RUnlock()

	if js == nil || conn == nil || !conn.IsConnected() {
		return errors.ErrNotConnected
	}

	var pubOpts []jetstream.PublishOpt
	if msgID != "" {
		pubOpts = append(pubOpts, jetstream.WithMsgID(msgID))
	}

	_, err := js.Publish(ctx, subject, data, pubOpts...)
	if err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PublishAck", "publish to stream")
	}

	m.resetCircuit()
	return nil
}

// PutRetained stores the latest value for a retained topic in the KV bucket.
// Keys are the topic with dots replaced so they are valid KV keys.
func (m *Client) PutRetained(ctx context.Context, topic string, data []byte) error {
	m.mu.RLock()
	kv := m.kv
	m.mu.RUnlock()

	if kv == nil {
		return errors.ErrNotConnected
	}

	key := RetainedKey(topic)
	if _, err := kv.Put(ctx, key, data); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "PutRetained", fmt.Sprintf("put %s", key))
	}

	m.resetCircuit()
	return nil
}

// RetainedKey converts a topic subject into a KV key
func RetainedKey(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

// RTT returns the round-trip time to the broker
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNotConnected
	}

	return conn.RTT()
}

// Close drains and closes the connection
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		m.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := m.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	var drainErr error
	drainDone := make(chan error, 1)
	go func() {
		drainDone <- m.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(
			fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain timeout")
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
	}

	m.conn.Close()
	m.conn = nil
	m.js = nil
	m.kv = nil

	m.setStatus(StatusDisconnected)

	return drainErr
}

// Event handlers for the underlying NATS connection

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	if err != nil {
		m.logger.Errorf("Bus disconnected: %v", err)
	} else {
		m.logger.Printf("Bus disconnected")
	}
	if m.onDisconnect != nil {
		m.onDisconnect(err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Printf("Bus reconnected")
	if m.onReconnect != nil {
		m.onReconnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	if !m.closed.Load() {
		m.logger.Errorf("Bus connection closed unexpectedly")
		m.setStatus(StatusDisconnected)
	}
}

// isAlreadyExistsError checks if an error indicates a KV bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, jetstream.ErrBucketExists) ||
		strings.Contains(err.Error(), "already exists") ||
		strings.Contains(err.Error(), "already in use")
}
