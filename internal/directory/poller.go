package directory

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// Update is the outcome of one directory poll. A failed half leaves its field
// nil and sets the matching error.
type Update struct {
	Time       time.Time
	Queries    []model.Query
	Streams    []model.StreamInfo
	QueriesErr error
	StreamsErr error
}

// Poller fetches the active queries and the stream schema on a fixed cadence
// and hands every result to a callback. Failures never stop polling.
type Poller struct {
	dir      model.Directory
	interval time.Duration
	deliver  func(Update)
}

// NewPoller creates a poller. An interval of zero uses the default cadence.
func NewPoller(dir model.Directory, interval time.Duration, deliver func(Update)) *Poller {
	if interval <= 0 {
		interval = model.DefaultPollInterval
	}
	return &Poller{dir: dir, interval: interval, deliver: deliver}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single poll and delivers its result.
func (p *Poller) PollOnce(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval*5)
	defer cancel()

	u := Update{Time: time.Now()}
	u.Queries, u.QueriesErr = p.dir.ActiveQueries(reqCtx)
	u.Streams, u.StreamsErr = p.dir.Streams(reqCtx)
	if ctx.Err() != nil {
		return
	}
	if u.QueriesErr != nil {
		log.WithError(u.QueriesErr).Warn("directory: query poll failed")
	}
	if u.StreamsErr != nil {
		log.WithError(u.StreamsErr).Warn("directory: stream poll failed")
	}
	p.deliver(u)
}
