package feed

import "testing"

func TestFeed_SinceAndLimit(t *testing.T) {
	f := NewFeed(0)
	for _, text := range []string{"a", "b", "c", "d"} {
		f.Append(1, text)
	}

	tests := []struct {
		name  string
		since uint64
		limit int
		want  []string
	}{
		{"all", 0, 0, []string{"a", "b", "c", "d"}},
		{"after two", 2, 0, []string{"c", "d"}},
		{"limited", 1, 2, []string{"b", "c"}},
		{"caught up", 4, 0, nil},
		{"beyond", 9, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := texts(f.Since(tt.since, tt.limit))
			if !equalStrings(got, tt.want) {
				t.Errorf("Since(%d, %d) = %v, want %v", tt.since, tt.limit, got, tt.want)
			}
		})
	}
}

func TestFeed_WindowEvictsOldest(t *testing.T) {
	f := NewFeed(2)
	for _, text := range []string{"a", "b", "c"} {
		f.Append(1, text)
	}
	if f.Len() != 3 {
		t.Errorf("Len = %d, want 3", f.Len())
	}
	recs := f.Since(0, 0)
	if got := texts(recs); !equalStrings(got, []string{"b", "c"}) {
		t.Errorf("retained = %v, want [b c]", got)
	}
	if recs[0].Seq != 2 {
		t.Errorf("first retained seq = %d, want 2", recs[0].Seq)
	}
	if got := texts(f.Tail(1)); !equalStrings(got, []string{"c"}) {
		t.Errorf("Tail(1) = %v", got)
	}
}

func TestQueue_FIFO(t *testing.T) {
	var q Queue
	for i := 0; i < 200; i++ {
		q.Push(Entry{QID: 1, Text: string(rune('a' + i%26))})
	}
	for i := 0; i < 200; i++ {
		e, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d: queue empty", i)
		}
		if want := string(rune('a' + i%26)); e.Text != want {
			t.Fatalf("pop %d = %q, want %q", i, e.Text, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("pop on empty queue succeeded")
	}
}
