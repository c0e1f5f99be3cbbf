package decode

import (
	"errors"
	"strings"
	"testing"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

func testCatalog() *Catalog {
	return NewCatalog([]model.StreamInfo{
		{EventsInfo: []model.EventTypeInfo{
			{ID: 3, Name: "Temp", Attributes: []model.AttributeInfo{{Name: "value"}, {Name: "sensor"}}},
		}},
		{EventsInfo: []model.EventTypeInfo{
			{ID: 4, Name: "Door", Attributes: []model.AttributeInfo{{Name: "open"}}},
			{ID: 3, Name: "Shadowed", Attributes: nil},
		}},
	})
}

func TestDecode_SingleComplexEvent(t *testing.T) {
	c := testCatalog()
	raw := `[{"start":1000,"end":1700000000123000000,"eventss":[{"event":{"event_type_id":3,"attributes":[21.5,"s1"]}}]}]`

	res, err := c.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := `Event Triggered at time 2023-11-14T22:13:20.123Z - {"start":1000,"end":1700000000123000000,"events":[{"event_type":"Temp","value":21.5,"sensor":"s1"}]}`
	if res.Text != want {
		t.Errorf("text mismatch\n got: %s\nwant: %s", res.Text, want)
	}
	if res.ComplexEvents != 1 || res.Rendered() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", res.ComplexEvents, res.Rendered())
	}
}

func TestDecode_MultipleLinesJoined(t *testing.T) {
	c := testCatalog()
	raw := `[
		{"start":1,"end":2000000,"eventss":[{"event":{"event_type_id":4,"attributes":[true]}}]},
		{"start":3,"end":4000000,"eventss":[{"event":{"event_type_id":3,"attributes":[1,"a"]}},{"event":{"event_type_id":4,"attributes":[false]}}]}
	]`

	res, err := c.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	lines := strings.Split(res.Text, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), res.Text)
	}
	if !strings.HasPrefix(lines[0], "Event Triggered at time 1970-01-01T00:00:00.002Z - ") {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if !strings.HasSuffix(lines[1], `"events":[{"event_type":"Temp","value":1,"sensor":"a"},{"event_type":"Door","open":false}]}`) {
		t.Errorf("unexpected second line: %s", lines[1])
	}
}

func TestDecode_EventsFieldAlias(t *testing.T) {
	c := testCatalog()
	raw := `[{"start":0,"end":0,"events":[{"event":{"event_type_id":4,"attributes":[true]}}]}]`

	res, err := c.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.Contains(res.Text, `{"event_type":"Door","open":true}`) {
		t.Errorf("alias not decoded: %s", res.Text)
	}
}

func TestDecode_FirstCatalogEntryWins(t *testing.T) {
	c := testCatalog()
	info, ok := c.Lookup(3)
	if !ok || info.Name != "Temp" {
		t.Fatalf("Lookup(3) = %+v, %v; want Temp", info, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestDecode_EmptyArray(t *testing.T) {
	res, err := testCatalog().Decode([]byte(`[]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Text != "" || res.ComplexEvents != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestDecode_UnknownTypeSkipsOnlyThatEvent(t *testing.T) {
	c := testCatalog()
	raw := `[
		{"start":0,"end":0,"eventss":[{"event":{"event_type_id":99,"attributes":[]}}]},
		{"start":0,"end":0,"eventss":[{"event":{"event_type_id":4,"attributes":[true]}}]}
	]`

	res, err := c.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.ComplexEvents != 2 || res.Rendered() != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", res.ComplexEvents, res.Rendered())
	}
	if len(res.Failures) != 1 || res.Failures[0].Index != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	if !errors.Is(res.Failures[0], ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", res.Failures[0].Err)
	}
	if strings.Contains(res.Text, "\n") {
		t.Errorf("expected one line, got %q", res.Text)
	}
}

func TestDecode_AttributeMismatch(t *testing.T) {
	c := testCatalog()
	raw := `[{"start":0,"end":0,"eventss":[{"event":{"event_type_id":3,"attributes":[1]}}]}]`

	res, err := c.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected no text, got %q", res.Text)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0], ErrAttributeMismatch) {
		t.Errorf("expected ErrAttributeMismatch, got %+v", res.Failures)
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	c := testCatalog()
	for _, raw := range []string{`{"start":0}`, `not json`, `[1,2]`} {
		_, err := c.Decode([]byte(raw))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformedPayload", raw, err)
		}
	}
}

func TestDecode_NoHTMLEscaping(t *testing.T) {
	c := NewCatalog([]model.StreamInfo{{EventsInfo: []model.EventTypeInfo{
		{ID: 1, Name: "A<B", Attributes: []model.AttributeInfo{{Name: "x&y"}}},
	}}})
	res, err := c.Decode([]byte(`[{"start":0,"end":0,"eventss":[{"event":{"event_type_id":1,"attributes":["<ok>"]}}]}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.Contains(res.Text, `{"event_type":"A<B","x&y":"<ok>"}`) {
		t.Errorf("unexpected escaping: %s", res.Text)
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if _, ok := c.Lookup(1); ok {
		t.Error("nil catalog should not resolve ids")
	}
	res, err := c.Decode([]byte(`[{"start":0,"end":0,"eventss":[{"event":{"event_type_id":1,"attributes":[]}}]}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(res.Failures) != 1 {
		t.Errorf("expected one failure, got %+v", res.Failures)
	}
}
