package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

func sampleSnapshot() model.Snapshot {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return model.Snapshot{
		SessionID:  "s-1",
		ThrottleMS: 500,
		Pending:    2,
		FeedLen:    9,
		Queries: []model.QueryView{
			{Query: model.Query{ID: 7, Name: "hot"}},
			{Query: model.Query{ID: 2, Name: "cold"}},
		},
		Connections: map[model.QueryID]model.ConnState{7: model.ConnOpen},
		Stats: map[model.QueryID]model.QueryStats{
			7: {
				Series:        []model.RateSample{{Time: at, NumHits: 3, NumComplexEvents: 5}},
				Hits:          model.RateStats{Total: 3, Max: 3},
				ComplexEvents: model.RateStats{Total: 5, Max: 5},
			},
			2: {DecodeFailures: 1},
		},
	}
}

func TestBuildReportOrdersQueries(t *testing.T) {
	rep := buildReport(sampleSnapshot())
	if len(rep.Queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(rep.Queries))
	}
	if rep.Queries[0].ID != 2 || rep.Queries[1].ID != 7 {
		t.Errorf("order = %d,%d; want 2,7", rep.Queries[0].ID, rep.Queries[1].ID)
	}
	if rep.Queries[0].Connection != "closed" {
		t.Errorf("missing connection should report closed, got %q", rep.Queries[0].Connection)
	}
	hot := rep.Queries[1]
	if hot.Name != "hot" || hot.Connection != "open" {
		t.Errorf("hot = %+v", hot)
	}
	if len(hot.PerSecond) != 1 || hot.PerSecond[0].ComplexEvents != 5 {
		t.Errorf("per second = %+v", hot.PerSecond)
	}
}

func TestWriteReportFormats(t *testing.T) {
	rep := buildReport(sampleSnapshot())

	var y bytes.Buffer
	if err := writeReport(&y, rep, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var decoded sessionReport
	if err := yaml.Unmarshal(y.Bytes(), &decoded); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	if decoded.Session != "s-1" || decoded.ThrottleMS != 500 {
		t.Errorf("yaml report = %+v", decoded)
	}

	var j bytes.Buffer
	if err := writeReport(&j, rep, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !json.Valid(j.Bytes()) || !strings.Contains(j.String(), `"decode_failures": 1`) {
		t.Errorf("json report = %s", j.String())
	}

	if err := writeReport(&j, rep, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
