package socketrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

const callTimeout = 30 * time.Second

// Client implements model.WatchAPI over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.WatchAPI = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	paramsData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal params: %w", err)
	}

	c.conn.SetDeadline(time.Now().Add(callTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d does not match request %d", resp.ID, id)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// Snapshot fetches the session read model.
func (c *Client) Snapshot(req model.SnapshotRequest) (model.Snapshot, error) {
	var snap model.Snapshot
	err := c.call("Snapshot", req, &snap)
	return snap, err
}

func (c *Client) SetSelection(ids []model.QueryID) error {
	if ids == nil {
		ids = []model.QueryID{}
	}
	return c.call("SetSelection", map[string]any{"IDs": ids}, nil)
}

func (c *Client) Toggle(id model.QueryID) error {
	return c.call("Toggle", map[string]any{"ID": id}, nil)
}

func (c *Client) SetThrottle(intervalMS int) error {
	return c.call("SetThrottle", map[string]any{"IntervalMS": intervalMS}, nil)
}

func (c *Client) Deactivate(id model.QueryID) error {
	return c.call("Deactivate", map[string]any{"ID": id}, nil)
}
