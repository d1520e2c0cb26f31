package natsclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testImage       = "nats:2.11.7-alpine"
	testClientPort  = "4222/tcp"
	testMonitorPort = "8222/tcp"
)

// TestClient is a connected Client backed by a NATS container that lives
// as long as the test
type TestClient struct {
	Client *Client
	URL    string
}

type testServer struct {
	image     string
	jetstream bool
	buckets   []string
	dial      time.Duration
}

// TestOption adjusts the container started by NewTestClient
type TestOption func(*testServer)

// WithJetStream enables JetStream on the server
func WithJetStream() TestOption {
	return func(s *testServer) { s.jetstream = true }
}

// WithKVBuckets enables JetStream and creates buckets up front
func WithKVBuckets(buckets ...string) TestOption {
	return func(s *testServer) {
		s.jetstream = true
		s.buckets = append(s.buckets, buckets...)
	}
}

// WithImage runs a different NATS image
func WithImage(image string) TestOption {
	return func(s *testServer) { s.image = image }
}

func (s testServer) command() []string {
	cmd := []string{"-p", "4222", "-m", "8222"}
	if s.jetstream {
		cmd = append(cmd, "-js")
	}
	return cmd
}

// start runs the container and returns the client URL
func (s testServer) start(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.image,
			Cmd:          s.command(),
			ExposedPorts: []string{testClientPort, testMonitorPort},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(testClientPort),
				wait.ForHTTP("/healthz").WithPort(testMonitorPort),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if ctr != nil {
		t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })
	}
	if err != nil {
		t.Fatalf("natsclient: start %s: %v", s.image, err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("natsclient: container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, testClientPort)
	if err != nil {
		t.Fatalf("natsclient: container port: %v", err)
	}
	return "nats://" + net.JoinHostPort(host, port.Port())
}

// NewTestClient starts NATS in a container and connects to it. Docker must
// be available; callers live behind the integration build tag.
func NewTestClient(t testing.TB, opts ...TestOption) *TestClient {
	t.Helper()
	srv := testServer{image: testImage, dial: 5 * time.Second}
	for _, opt := range opts {
		opt(&srv)
	}
	url := srv.start(t)

	c, err := NewClient(url, WithName(t.Name()), WithTimeout(srv.dial), WithMaxReconnects(0))
	if err != nil {
		t.Fatalf("natsclient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), srv.dial)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("natsclient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	for _, bucket := range srv.buckets {
		if _, err := c.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: bucket}); err != nil {
			t.Fatalf("natsclient: bucket %s: %v", bucket, err)
		}
	}
	return &TestClient{Client: c, URL: url}
}

// Bucket opens a bucket made with WithKVBuckets
func (tc *TestClient) Bucket(t testing.TB, name string) jetstream.KeyValue {
	t.Helper()
	kv, err := tc.Client.GetKeyValueBucket(context.Background(), name)
	if err != nil {
		t.Fatalf("natsclient: bucket %s: %v", name, err)
	}
	return kv
}
