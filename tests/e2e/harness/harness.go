// Package harness provides the E2E test environment: a live server on a
// loopback port, a schema loaded from TOML exactly as `serve` would
// load it, and connected clients torn down with the test.
package harness

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/tabled/internal/client"
	"github.com/Dicklesworthstone/tabled/internal/engine"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/server"
)

// DefaultTimeout bounds any single E2E step.
const DefaultTimeout = 5 * time.Second

// Schema is the document every E2E scenario runs against: item holds a
// single integer, link holds a single reference to item.
const Schema = `
[[table]]
name = "item"

  [[table.column]]
  name = "n"
  type = "integer"

[[table]]
name = "link"

  [[table.column]]
  name = "item"
  type = "foreign"
  ref = "item"
`

// Env is one running server plus its dial address.
type Env struct {
	T      *testing.T
	Addr   string
	Tables []schema.Table
}

// Options tweak the environment.
type Options struct {
	// Schema overrides the default two-table schema (TOML).
	Schema string
	// MaxConns overrides the admission cap (default 4).
	MaxConns int
}

// New boots a server and registers its teardown with the test.
func New(t *testing.T) *Env {
	return NewWithOptions(t, Options{})
}

// NewWithOptions boots a server with explicit options.
func NewWithOptions(t *testing.T, opts Options) *Env {
	t.Helper()

	doc := opts.Schema
	if doc == "" {
		doc = Schema
	}
	if opts.MaxConns == 0 {
		opts.MaxConns = 4
	}

	tables, err := schema.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing schema: %v", err)
	}

	srv, err := server.New(engine.New(tables), server.Options{
		Addr:     "127.0.0.1:0",
		MaxConns: opts.MaxConns,
		Logger:   log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
	})

	return &Env{T: t, Addr: srv.Addr().String(), Tables: tables}
}

// Connect dials the server and registers the client's teardown.
func (e *Env) Connect() *client.Client {
	e.T.Helper()
	c, err := client.Dial(e.Addr)
	if err != nil {
		e.T.Fatalf("dial %s: %v", e.Addr, err)
	}
	e.T.Cleanup(func() { _ = c.Close() })
	return c
}
