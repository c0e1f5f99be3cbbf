package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.WatchAPI over a Unix domain socket.
// Each method maps 1:1 to the WatchAPI interface.
//
//   Method          Params                                                 Result
//   ────────────    ─────────────────────────────────────────────────────   ──────────────
//   Snapshot        {FeedSince: uint64, FeedLimit: int, SeriesWindow: int}   model.Snapshot
//   SetSelection    {IDs: []int64}                                          null
//   Toggle          {ID: int64}                                             null
//   SetThrottle     {IntervalMS: int}                                       null
//   Deactivate      {ID: int64}                                             null
//
// Snapshot accepts empty or null params and then returns the whole retained
// feed with full series.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (engine refused or closed)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/cepwatch/cepwatch.sock, falling back to
// ~/.local/state/cepwatch/cepwatch.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "cepwatch", "cepwatch.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cepwatch.sock")
	}
	return filepath.Join(home, ".local", "state", "cepwatch", "cepwatch.sock")
}
