package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

var (
	// ErrMalformedPayload means the frame is not a JSON array of complex events.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownEventType means a sub-event references a type id missing from the catalog.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrAttributeMismatch means a sub-event carries a different number of
	// attribute values than its event type declares.
	ErrAttributeMismatch = errors.New("attribute count mismatch")
)

// isoMillis matches the ISO-8601 rendering operators are used to seeing in the feed.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Failure records one complex event that could not be rendered.
type Failure struct {
	Index int
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("complex event %d: %v", f.Index, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result is the outcome of decoding one frame.
type Result struct {
	// Text holds one line per rendered complex event, joined by newlines.
	// It is empty when nothing could be rendered.
	Text string
	// ComplexEvents is the number of complex events carried by the frame.
	ComplexEvents int
	// Failures lists complex events skipped because they could not be decoded.
	Failures []Failure
}

// Rendered reports how many complex events made it into Text.
func (r Result) Rendered() int {
	return r.ComplexEvents - len(r.Failures)
}

// Decode renders a raw frame. A malformed complex event is skipped and
// reported in Result.Failures; the remaining ones are still rendered. Only a
// frame that is not a JSON array of complex events returns an error.
func (c *Catalog) Decode(raw []byte) (Result, error) {
	var events []model.ComplexEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	res := Result{ComplexEvents: len(events)}
	lines := make([]string, 0, len(events))
	for i, ce := range events {
		line, err := c.renderLine(ce)
		if err != nil {
			res.Failures = append(res.Failures, Failure{Index: i, Err: err})
			continue
		}
		lines = append(lines, line)
	}
	res.Text = strings.Join(lines, "\n")
	return res, nil
}

// TriggerTime converts a complex event end time (ns epoch) to wall-clock time
// at millisecond precision.
func TriggerTime(endNanos int64) time.Time {
	return time.UnixMilli(endNanos / int64(time.Millisecond)).UTC()
}

func (c *Catalog) renderLine(ce model.ComplexEvent) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("Event Triggered at time ")
	buf.WriteString(TriggerTime(ce.End).Format(isoMillis))
	buf.WriteString(" - ")

	fmt.Fprintf(&buf, `{"start":%d,"end":%d,"events":[`, ce.Start, ce.End)
	for i, wrapped := range ce.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := c.writeEvent(&buf, wrapped.Event); err != nil {
			return "", fmt.Errorf("sub-event %d: %w", i, err)
		}
	}
	buf.WriteString("]}")
	return buf.String(), nil
}

// writeEvent zips positional attribute values with the attribute names of the
// event type, keeping declaration order in the output object.
func (c *Catalog) writeEvent(buf *bytes.Buffer, ev model.Event) error {
	info, ok := c.Lookup(ev.TypeID)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownEventType, ev.TypeID)
	}
	if len(ev.Attributes) != len(info.Attributes) {
		return fmt.Errorf("%w: %s declares %d, got %d",
			ErrAttributeMismatch, info.Name, len(info.Attributes), len(ev.Attributes))
	}

	buf.WriteString(`{"event_type":`)
	writeString(buf, info.Name)
	for i, attr := range info.Attributes {
		buf.WriteByte(',')
		writeString(buf, attr.Name)
		buf.WriteByte(':')
		value := ev.Attributes[i]
		if len(value) == 0 {
			buf.WriteString("null")
			continue
		}
		if err := json.Compact(buf, value); err != nil {
			return fmt.Errorf("attribute %q: %w", attr.Name, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	// Encoder terminates each value with a newline.
	buf.Truncate(buf.Len() - 1)
}
