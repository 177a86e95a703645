package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/tabled/internal/engine"
	"github.com/Dicklesworthstone/tabled/internal/schema"
	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

func startServer(t *testing.T, maxConns int) string {
	t.Helper()

	tables := []schema.Table{
		{Name: "item", Columns: []schema.Column{{Name: "n", Type: value.KindInteger}}},
	}
	srv, err := New(engine.New(tables), Options{
		Addr:     "127.0.0.1:0",
		MaxConns: maxConns,
		Logger:   log.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Stop()
	})
	return srv.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func expectGreeting(t *testing.T, r *bufio.Reader, want wire.Code) {
	t.Helper()
	resp, err := wire.ReadResponse(r, wire.CmdExit)
	if err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if resp.Code != want {
		t.Fatalf("greeting = %v, want %v", resp.Code, want)
	}
}

func TestSessionLifecycle(t *testing.T) {
	addr := startServer(t, 4)
	conn := dial(t, addr)
	r := bufio.NewReader(conn)

	expectGreeting(t, r, wire.OK)

	// Insert over the wire.
	err := wire.WriteRequest(conn, wire.Request{
		Command: wire.CmdInsert,
		TableID: 1,
		Values:  []value.Value{value.NewInt(42)},
	})
	if err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	resp, err := wire.ReadResponse(r, wire.CmdInsert)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Code != wire.OK || resp.RowID != 1 || resp.Version != 1 {
		t.Fatalf("insert = %+v", resp)
	}

	// Read it back.
	if err := wire.WriteRequest(conn, wire.Request{Command: wire.CmdGet, TableID: 1, RowID: 1}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	resp, err = wire.ReadResponse(r, wire.CmdGet)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Code != wire.OK || !resp.Values[0].Equal(value.NewInt(42)) {
		t.Fatalf("get = %+v", resp)
	}

	// Exit ends the session without a response.
	if err := wire.WriteRequest(conn, wire.Request{Command: wire.CmdExit}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("read after exit = %v, want io.EOF", err)
	}
}

func TestMalformedRequestClosesSession(t *testing.T) {
	addr := startServer(t, 4)
	conn := dial(t, addr)
	r := bufio.NewReader(conn)

	expectGreeting(t, r, wire.OK)

	// Command 99 is not in the protocol.
	if _, err := conn.Write([]byte{0, 0, 0, 99}); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := wire.ReadResponse(r, wire.CmdExit)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Code != wire.BadRequest {
		t.Fatalf("got %v, want BAD_REQUEST", resp.Code)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("session still open after bad request: %v", err)
	}
}

func TestAdmissionCap(t *testing.T) {
	addr := startServer(t, 2)

	// Fill the cap.
	for i := 0; i < 2; i++ {
		conn := dial(t, addr)
		expectGreeting(t, bufio.NewReader(conn), wire.OK)
	}

	// The next connection is refused before the greeting.
	conn := dial(t, addr)
	expectGreeting(t, bufio.NewReader(conn), wire.ServerBusy)
	if _, err := bufio.NewReader(conn).ReadByte(); err != io.EOF {
		t.Fatalf("refused connection left open: %v", err)
	}
}

func TestAdmissionCapReleasesOnExit(t *testing.T) {
	addr := startServer(t, 1)

	conn := dial(t, addr)
	r := bufio.NewReader(conn)
	expectGreeting(t, r, wire.OK)
	if err := wire.WriteRequest(conn, wire.Request{Command: wire.CmdExit}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("session did not close: %v", err)
	}

	// The slot frees up; a new connection is admitted. The release
	// races with our EOF observation, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		next := dial(t, addr)
		resp, err := wire.ReadResponse(bufio.NewReader(next), wire.CmdExit)
		if err != nil {
			t.Fatalf("reading greeting: %v", err)
		}
		if resp.Code == wire.OK {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection still refused: %v", resp.Code)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
