// Package testutil provides fixtures for tests that need a live server.
package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/tabled/internal/engine"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/server"
	"github.com/Dicklesworthstone/tabled/internal/value"
)

// FixtureTables returns the canonical two-table test schema: table 1
// holds a single Integer column, table 2 a single Foreign column
// referencing table 1.
func FixtureTables() []schema.Table {
	return []schema.Table{
		{Name: "item", Columns: []schema.Column{
			{Name: "n", Type: value.KindInteger},
		}},
		{Name: "link", Columns: []schema.Column{
			{Name: "item", Type: value.KindForeign, Ref: 1},
		}},
	}
}

// StartServer boots a server on a loopback port and tears it down with
// the test. It returns the dial address.
func StartServer(t *testing.T, tables []schema.Table, maxConns int) string {
	t.Helper()

	srv, err := server.New(engine.New(tables), server.Options{
		Addr:     "127.0.0.1:0",
		MaxConns: maxConns,
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

	return srv.Addr().String()
}
