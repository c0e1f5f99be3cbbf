package model

import "context"

// WatchAPI is the control and read contract of a watch session. It is served
// in-process by the engine and remotely by the socket RPC client.
type WatchAPI interface {
	Snapshot(req SnapshotRequest) (Snapshot, error)
	SetSelection(ids []QueryID) error
	Toggle(id QueryID) error
	SetThrottle(intervalMS int) error
	Deactivate(id QueryID) error
}

// Directory is the query and stream metadata source.
type Directory interface {
	ActiveQueries(ctx context.Context) ([]Query, error)
	Streams(ctx context.Context) ([]StreamInfo, error)
	InactivateQuery(ctx context.Context, id QueryID) error
}
