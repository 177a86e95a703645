// Package client provides a Go client for the tabled wire protocol.
// One Client owns one TCP connection; calls are serialized internally.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Dicklesworthstone/tabled/internal/value"
	"github.com/Dicklesworthstone/tabled/internal/wire"
)

// RemoteError is a non-OK response code surfaced as an error.
type RemoteError struct {
	Code wire.Code
}

func (e *RemoteError) Error() string {
	return e.Code.String()
}

// ErrServerBusy is returned by Dial when the server refuses the
// connection at its admission cap.
var ErrServerBusy = errors.New("server busy")

// Client is a connected protocol client.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to addr and consumes the greeting.
func Dial(addr string) (*Client, error) {
	return DialContext(context.Background(), addr)
}

// DialContext connects to addr and consumes the greeting.
func DialContext(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c := &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}

	greeting, err := wire.ReadResponse(c.r, wire.CmdExit)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading greeting: %w", err)
	}
	switch greeting.Code {
	case wire.OK:
		return c, nil
	case wire.ServerBusy:
		conn.Close()
		return nil, ErrServerBusy
	default:
		conn.Close()
		return nil, &RemoteError{Code: greeting.Code}
	}
}

// Close sends Exit and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	// Best-effort: the server ends the session on Exit without a
	// response.
	if err := wire.WriteRequest(c.w, wire.Request{Command: wire.CmdExit}); err == nil {
		_ = c.w.Flush()
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call sends one request and decodes its response.
func (c *Client) call(req wire.Request) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return wire.Response{}, fmt.Errorf("client is closed")
	}

	if err := wire.WriteRequest(c.w, req); err != nil {
		return wire.Response{}, fmt.Errorf("sending %s: %w", req.Command, err)
	}
	if err := c.w.Flush(); err != nil {
		return wire.Response{}, fmt.Errorf("sending %s: %w", req.Command, err)
	}

	resp, err := wire.ReadResponse(c.r, req.Command)
	if err != nil {
		return wire.Response{}, fmt.Errorf("reading %s response: %w", req.Command, err)
	}
	if resp.Code != wire.OK {
		return wire.Response{}, &RemoteError{Code: resp.Code}
	}
	return resp, nil
}

// Insert stores a new row and returns its id and version (always 1).
func (c *Client) Insert(tableID int32, values []value.Value) (rowID, version int64, err error) {
	resp, err := c.call(wire.Request{Command: wire.CmdInsert, TableID: tableID, Values: values})
	if err != nil {
		return 0, 0, err
	}
	return resp.RowID, resp.Version, nil
}

// Update replaces a row's values; version 0 forces the update.
func (c *Client) Update(tableID int32, rowID, version int64, values []value.Value) (int64, error) {
	resp, err := c.call(wire.Request{
		Command: wire.CmdUpdate,
		TableID: tableID,
		RowID:   rowID,
		Version: version,
		Values:  values,
	})
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

// Get fetches a row snapshot.
func (c *Client) Get(tableID int32, rowID int64) (version int64, values []value.Value, err error) {
	resp, err := c.call(wire.Request{Command: wire.CmdGet, TableID: tableID, RowID: rowID})
	if err != nil {
		return 0, nil, err
	}
	return resp.Version, resp.Values, nil
}

// Drop removes a row and everything that transitively references it.
func (c *Client) Drop(tableID int32, rowID int64) error {
	_, err := c.call(wire.Request{Command: wire.CmdDrop, TableID: tableID, RowID: rowID})
	return err
}

// Scan returns the row ids matching the predicate.
func (c *Client) Scan(tableID, columnID int32, op wire.Operator, comparand value.Value) ([]int64, error) {
	resp, err := c.call(wire.Request{
		Command:   wire.CmdScan,
		TableID:   tableID,
		ColumnID:  columnID,
		Operator:  op,
		Comparand: comparand,
	})
	if err != nil {
		return nil, err
	}
	return resp.RowIDs, nil
}

// Ping measures a round trip using an AL scan against table 1.
func (c *Client) Ping() (time.Duration, error) {
	start := time.Now()
	if _, err := c.Scan(1, 0, wire.OpAll, value.Null()); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
