package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/socketrpc"
)

var socketFlag string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-query statistics of the running session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		window, _ := cmd.Flags().GetInt("window")
		format, _ := cmd.Flags().GetString("output")
		return withClient(func(c model.WatchAPI) error {
			snap, err := c.Snapshot(model.SnapshotRequest{FeedSince: ^uint64(0), SeriesWindow: window})
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), buildReport(snap), format)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [query-id...]",
	Short: "Replace the set of watched queries (no ids unwatches everything)",
	RunE: func(_ *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withClient(func(c model.WatchAPI) error {
			return c.SetSelection(ids)
		})
	},
}

var throttleCmd = &cobra.Command{
	Use:   "throttle <ms>",
	Short: "Set the feed release interval (0 = real time)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid interval %q: want a non-negative number of milliseconds", args[0])
		}
		return withClient(func(c model.WatchAPI) error {
			return c.SetThrottle(ms)
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <query-id>",
	Short: "Ask the engine to deactivate a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withClient(func(c model.WatchAPI) error {
			return c.Deactivate(ids[0])
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statsCmd, watchCmd, throttleCmd, deactivateCmd} {
		cmd.Flags().StringVar(&socketFlag, "socket", "", "socket path of the cepwatch service")
	}
	statsCmd.Flags().Int("window", 10, "seconds of per-second samples to include")
	statsCmd.Flags().StringP("output", "o", "yaml", "output format: yaml or json")
}

func withClient(fn func(c model.WatchAPI) error) error {
	path := socketFlag
	if path == "" {
		v, err := newViper(configPath, nil)
		if err != nil {
			return err
		}
		path = v.GetString("socket-path")
	}
	client, err := socketrpc.Dial(path)
	if err != nil {
		return fmt.Errorf("cannot connect to cepwatch service at %s: %w\nIs the service running? Start it with: cepwatch serve", path, err)
	}
	defer client.Close()
	return fn(client)
}

func parseIDs(args []string) ([]model.QueryID, error) {
	ids := make([]model.QueryID, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid query id %q", a)
		}
		ids = append(ids, model.QueryID(n))
	}
	return ids, nil
}

type queryReport struct {
	ID             model.QueryID      `json:"id" yaml:"id"`
	Name           string             `json:"name" yaml:"name"`
	Connection     string             `json:"connection" yaml:"connection"`
	Hits           model.RateStats    `json:"hits" yaml:"hits"`
	ComplexEvents  model.RateStats    `json:"complex_events" yaml:"complex_events"`
	DecodeFailures uint64             `json:"decode_failures" yaml:"decode_failures"`
	PerSecond      []sampleReport     `json:"per_second,omitempty" yaml:"per_second,omitempty"`
}

type sampleReport struct {
	Time          string `json:"time" yaml:"time"`
	Hits          uint64 `json:"hits" yaml:"hits"`
	ComplexEvents uint64 `json:"complex_events" yaml:"complex_events"`
}

type sessionReport struct {
	Session    string        `json:"session" yaml:"session"`
	ThrottleMS int           `json:"throttle_ms" yaml:"throttle_ms"`
	Pending    int           `json:"pending" yaml:"pending"`
	FeedLen    uint64        `json:"feed_len" yaml:"feed_len"`
	Queries    []queryReport `json:"queries" yaml:"queries"`
}

func buildReport(snap model.Snapshot) sessionReport {
	names := make(map[model.QueryID]string, len(snap.Queries))
	for _, q := range snap.Queries {
		names[q.ID] = q.Name
	}
	rep := sessionReport{
		Session:    snap.SessionID,
		ThrottleMS: snap.ThrottleMS,
		Pending:    snap.Pending,
		FeedLen:    snap.FeedLen,
		Queries:    []queryReport{},
	}
	for id, st := range snap.Stats {
		conn := model.ConnClosed
		if s, ok := snap.Connections[id]; ok {
			conn = s
		}
		rep.Queries = append(rep.Queries, queryReport{
			ID:             id,
			Name:           names[id],
			Connection:     conn.String(),
			Hits:           st.Hits,
			ComplexEvents:  st.ComplexEvents,
			DecodeFailures: st.DecodeFailures,
			PerSecond:      samples(st.Series),
		})
	}
	sort.Slice(rep.Queries, func(i, j int) bool { return rep.Queries[i].ID < rep.Queries[j].ID })
	return rep
}

func samples(series []model.RateSample) []sampleReport {
	out := make([]sampleReport, 0, len(series))
	for _, s := range series {
		out = append(out, sampleReport{
			Time:          s.Time.Format(time.RFC3339),
			Hits:          s.NumHits,
			ComplexEvents: s.NumComplexEvents,
		})
	}
	return out
}

func writeReport(w io.Writer, rep sessionReport, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
