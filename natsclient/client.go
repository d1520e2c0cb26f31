package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/flowcanvas/errors"
	"github.com/c360/flowcanvas/pkg/retry"
	"github.com/c360/flowcanvas/scheduler"
)

// ConnectionStatus is the state of the NATS connection
type ConnectionStatus int32

// Connection states
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
	StatusClosed
)

// String returns the status name
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
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client closed")
)

const (
	defaultThreshold  = 5
	initialBackoff    = time.Second
	defaultMaxBackoff = time.Minute
)

// Status is a point-in-time view of the client
type Status struct {
	Status      ConnectionStatus `json:"status"`
	Failures    int32            `json:"failures"`
	LastFailure time.Time        `json:"lastFailure,omitzero"`
	Backoff     time.Duration    `json:"backoff"`
	Reconnects  uint64           `json:"reconnects"`
}

// Client owns one NATS connection and its JetStream context
type Client struct {
	url    string
	name   string
	logger *slog.Logger
	clock  scheduler.Clock

	timeout       time.Duration
	maxReconnects int
	reconnectWait time.Duration
	drainTimeout  time.Duration

	user, password, token string

	onHealth func(bool)

	status          atomic.Int32
	failures        atomic.Int32
	circuitFailures atomic.Int32
	threshold       int32
	maxBackoff      time.Duration

	mu          sync.RWMutex
	conn        *nats.Conn
	js          jetstream.JetStream
	subs        []*nats.Subscription
	backoff     time.Duration
	lastFailure time.Time
	closed      bool
}

// NewClient creates a disconnected client for url
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "natsclient", "NewClient", "validate url")
	}
	c := &Client{
		url:           url,
		name:          "flowcanvas",
		logger:        slog.Default().With("component", "natsclient"),
		clock:         scheduler.Real(),
		timeout:       5 * time.Second,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		drainTimeout:  5 * time.Second,
		threshold:     defaultThreshold,
		maxBackoff:    defaultMaxBackoff,
		backoff:       initialBackoff,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}
	return c, nil
}

// URL returns the server url
func (c *Client) URL() string {
	return c.url
}

// Status returns the connection state
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns failed calls since the last success
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// GetStatus returns a snapshot of the client state
func (c *Client) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{
		Status:      c.Status(),
		Failures:    c.failures.Load(),
		LastFailure: c.lastFailure,
		Backoff:     c.backoff,
	}
	if c.conn != nil {
		s.Reconnects = c.conn.Stats().Reconnects
	}
	return s
}

// recordFailure counts a failed call and opens the circuit once the
// threshold is reached. The circuit half-opens after the current backoff,
// which doubles up to maxBackoff on every opening.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.mu.Lock()
	c.lastFailure = c.clock.Now()
	c.mu.Unlock()

	if c.circuitFailures.Add(1) < c.threshold {
		return
	}
	c.circuitFailures.Store(0)

	prev := c.Status()
	if prev == StatusCircuitOpen || prev == StatusClosed {
		return
	}
	if !c.status.CompareAndSwap(int32(prev), int32(StatusCircuitOpen)) {
		return
	}

	c.mu.Lock()
	wait := c.backoff
	c.backoff = min(c.backoff*2, c.maxBackoff)
	c.mu.Unlock()

	c.logger.Warn("circuit breaker opened", "failures", c.failures.Load(), "backoff", wait)
	c.clock.AfterFunc(wait, c.halfOpen)
}

func (c *Client) halfOpen() {
	if c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected)) {
		c.logger.Debug("circuit breaker half-open")
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.mu.Lock()
	c.backoff = initialBackoff
	c.lastFailure = time.Time{}
	c.mu.Unlock()
}

func (c *Client) guard() error {
	switch c.Status() {
	case StatusConnected:
		return nil
	case StatusCircuitOpen:
		return ErrCircuitOpen
	case StatusClosed:
		return ErrClosed
	}
	return ErrNotConnected
}

func (c *Client) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ErrorHandler(c.handleError),
	}
	if c.user != "" {
		opts = append(opts, nats.UserInfo(c.user, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

// Connect dials the server and sets up JetStream
func (c *Client) Connect(ctx context.Context) error {
	switch c.Status() {
	case StatusConnected:
		return nil
	case StatusCircuitOpen:
		return ErrCircuitOpen
	case StatusClosed:
		return ErrClosed
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.options()...)
		done <- dialResult{conn, err}
	}()

	var res dialResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		c.fail()
		return errors.WrapTransient(ctx.Err(), "natsclient", "Connect", "wait for connection")
	}
	if res.err != nil {
		c.fail()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(res.err, "natsclient", "Connect", "dial "+c.url)
	}

	js, err := jetstream.New(res.conn)
	if err != nil {
		res.conn.Close()
		c.fail()
		return errors.WrapFatal(err, "natsclient", "Connect", "create jetstream context")
	}

	c.mu.Lock()
	c.conn, c.js = res.conn, js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to NATS", "url", c.url)
	c.notifyHealth(true)
	return nil
}

func (c *Client) fail() {
	c.recordFailure()
	c.status.CompareAndSwap(int32(StatusConnecting), int32(StatusDisconnected))
}

// ConnectWithRetry calls Connect under policy
func (c *Client) ConnectWithRetry(ctx context.Context, policy retry.Policy) error {
	if policy.Clock == nil {
		policy.Clock = c.clock
	}
	return retry.Do(ctx, policy, func(attempt int) error {
		err := c.Connect(ctx)
		if err != nil && stderrors.Is(err, ErrClosed) {
			return retry.Permanent(err)
		}
		if err != nil {
			c.logger.Debug("connect attempt failed", "attempt", attempt, "error", err)
		}
		return err
	})
}

// WaitForConnection blocks until the client is connected or ctx ends
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "natsclient", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Close drains subscriptions and closes the connection. Calling it again
// is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, subs := c.conn, c.subs
	c.conn, c.js, c.subs = nil, nil, nil
	c.password, c.token = "", ""
	c.mu.Unlock()

	c.setStatus(StatusClosed)
	if conn == nil {
		return nil
	}

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Debug("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var err error
	select {
	case err = <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}
	conn.Close()
	c.notifyHealth(false)
	c.logger.Info("NATS connection closed")
	if err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
		return errors.WrapTransient(err, "natsclient", "Close", "drain connection")
	}
	return nil
}

// Publish sends data to subject
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		c.recordFailure()
		return errors.WrapTransient(err, "natsclient", "Publish", "publish to "+subject)
	}
	return nil
}

// Subscribe delivers messages on subject to handler until ctx ends or the
// client closes
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", "subscribe to "+subject)
	}
	c.subs = append(c.subs, sub)

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// CreateKeyValueBucket returns the bucket named in cfg, creating it when it
// does not exist yet
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.logger.Debug("using existing KV bucket", "bucket", cfg.Bucket)
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}
	c.logger.Info("KV bucket ready", "bucket", cfg.Bucket, "history", cfg.History)
	return bucket, nil
}

// GetKeyValueBucket opens an existing bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	bucket, err := js.KeyValue(ctx, name)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.WrapInvalid(err, "natsclient", "GetKeyValueBucket", "open bucket "+name)
	}
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "natsclient", "GetKeyValueBucket", "open bucket "+name)
	}
	return bucket, nil
}

// DeleteKeyValueBucket removes a bucket and its history
func (c *Client) DeleteKeyValueBucket(ctx context.Context, name string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}
	if err := js.DeleteKeyValue(ctx, name); err != nil {
		return errors.WrapTransient(err, "natsclient", "DeleteKeyValueBucket", "delete bucket "+name)
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	if c.status.CompareAndSwap(int32(StatusConnected), int32(StatusReconnecting)) {
		c.logger.Warn("NATS disconnected", "error", err)
		c.notifyHealth(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	if c.status.CompareAndSwap(int32(StatusReconnecting), int32(StatusConnected)) {
		c.resetCircuit()
		c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
		c.notifyHealth(true)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Warn("NATS async error", "subject", subject, "error", err)
}

func (c *Client) notifyHealth(healthy bool) {
	if c.onHealth != nil {
		c.onHealth(healthy)
	}
}
