package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/observe/pkg/storage"
)

// Config holds configuration for the HTTP/WebSocket server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Connection

	// ReadTimeout is the maximum time to wait for a frame or pong from the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between pings. Must be below ReadTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming frame.
	// Default: 64KB.
	MaxMessageSize int64

	// SendQueue is the number of outgoing frames buffered per connection.
	// A client that falls further behind is disconnected.
	// Default: 256.
	SendQueue int

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MaxSessions is the maximum number of concurrent sessions.
	// Default: 10000. Zero disables the limit.
	MaxSessions int

	// Metrics

	// Gatherer backs the /metrics endpoint.
	// Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Registerer receives the HTTP request collectors.
	// Default: Gatherer when it is also a Registerer, else
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// TraceFilter selects the requests that get an HTTP span.
	// Default: every route except /healthz and /metrics.
	TraceFilter func(r *http.Request) bool

	// Persistence

	// Store keeps session snapshots across reconnects. When set, a session's
	// writable values are saved on disconnect and a client reconnecting with
	// ?session=<id> gets them back. Nil disables snapshots.
	Store storage.Store

	// SnapshotPrefix is prepended to the session ID to form the store key.
	// Default: "session/".
	SnapshotPrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 * 1024,
		SendQueue:         256,
		ShutdownTimeout:   30 * time.Second,
		MaxSessions:       10000,
		Gatherer:          prometheus.DefaultGatherer,
		SnapshotPrefix:    "session/",
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.HeartbeatInterval <= 0 || out.HeartbeatInterval >= out.ReadTimeout {
		out.HeartbeatInterval = out.ReadTimeout / 2
	}
	if out.MaxMessageSize <= 0 {
		out.MaxMessageSize = d.MaxMessageSize
	}
	if out.SendQueue <= 0 {
		out.SendQueue = d.SendQueue
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.Gatherer == nil {
		out.Gatherer = d.Gatherer
	}
	if out.Registerer == nil {
		if reg, ok := out.Gatherer.(prometheus.Registerer); ok {
			out.Registerer = reg
		} else {
			out.Registerer = prometheus.DefaultRegisterer
		}
	}
	if out.TraceFilter == nil {
		out.TraceFilter = traceProbes
	}
	if out.SnapshotPrefix == "" {
		out.SnapshotPrefix = d.SnapshotPrefix
	}
	return &out
}

func traceProbes(r *http.Request) bool {
	return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// AllowAllOrigins accepts every origin. Use only in development.
func AllowAllOrigins(*http.Request) bool {
	return true
}
