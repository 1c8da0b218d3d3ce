package parser

import (
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type batchSink struct {
	mu      sync.Mutex
	batches []Batch
	ch      chan Batch
}

func newBatchSink() *batchSink {
	return &batchSink{ch: make(chan Batch, 64)}
}

func (s *batchSink) add(b Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	s.ch <- b
}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func newTestReconstructor(sink *batchSink, mock *clock.Mock) *Reconstructor {
	return New(sink.add, Options{Clock: mock, FlushDelay: 16 * time.Millisecond, Scrollback: 100})
}

func texts(records []Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Text
	}
	return out
}

func TestReconstructorDebounceCoalesces(t *testing.T) {
	mock := clock.NewMock()
	sink := newBatchSink()
	r := newTestReconstructor(sink, mock)
	defer r.Shutdown()

	r.Feed("s1", []byte("hel"))
	mock.Add(10 * time.Millisecond)
	r.Feed("s1", []byte("lo\nwor"))
	mock.Add(10 * time.Millisecond)

	select {
	case b := <-sink.ch:
		t.Fatalf("flush fired before the debounce window elapsed: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(10 * time.Millisecond)

	select {
	case b := <-sink.ch:
		if b.SessionID != "s1" {
			t.Errorf("SessionID = %q, want s1", b.SessionID)
		}
		want := []string{"hello", "wor"}
		if got := texts(b.Records); !reflect.DeepEqual(got, want) {
			t.Errorf("records = %q, want %q", got, want)
		}
		if b.Records[0].Open || !b.Records[1].Open {
			t.Errorf("open flags = %v/%v, want false/true", b.Records[0].Open, b.Records[1].Open)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for batch")
	}

	time.Sleep(20 * time.Millisecond)
	if n := sink.count(); n != 1 {
		t.Fatalf("batches = %d, want exactly 1 for one debounce window", n)
	}
}

func TestReconstructorOpenLineContinues(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("$ ec"))
	r.Flush("s")
	r.Feed("s", []byte("ho hi\nhi\n"))
	r.Flush("s")

	first := <-sink.ch
	second := <-sink.ch

	if first.Records[0].Text != "$ ec" || !first.Records[0].Open {
		t.Fatalf("first record = %+v, want open \"$ ec\"", first.Records[0])
	}
	if second.Records[0].Seq != first.Records[0].Seq {
		t.Errorf("continued record Seq = %d, want %d", second.Records[0].Seq, first.Records[0].Seq)
	}
	want := []string{"$ echo hi", "hi"}
	if got := texts(second.Records); !reflect.DeepEqual(got, want) {
		t.Errorf("records = %q, want %q", got, want)
	}
	for _, rec := range second.Records {
		if rec.Open {
			t.Errorf("record %+v should be sealed", rec)
		}
	}

	lines := r.Lines("s", 0)
	if got := texts(lines); !reflect.DeepEqual(got, want) {
		t.Errorf("scrollback = %q, want %q", got, want)
	}
}

func TestReconstructorSealedLineNotReopened(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("one\n"))
	r.Flush("s")
	r.Feed("s", []byte("two"))
	r.Flush("s")

	<-sink.ch
	b := <-sink.ch
	if len(b.Records) != 1 || b.Records[0].Text != "two" || b.Records[0].Seq != 2 {
		t.Fatalf("records = %+v, want a new record \"two\" with Seq 2", b.Records)
	}
}

func TestReconstructorBlankLines(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("a\n\n\nb\n"))
	r.Flush("s")

	b := <-sink.ch
	want := []string{"a", "", "", "b"}
	if got := texts(b.Records); !reflect.DeepEqual(got, want) {
		t.Fatalf("records = %q, want %q", got, want)
	}
}

func TestReconstructorStripsSequences(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("\x1b]0;user@host\x07\x1b[01;32muser\x1b[00m:\x1b[01;34m~\x1b[00m$ \r\n"))
	r.Flush("s")

	b := <-sink.ch
	if got := texts(b.Records); !reflect.DeepEqual(got, []string{"user:~$ "}) {
		t.Fatalf("records = %q, want [\"user:~$ \"]", got)
	}
}

// TestReconstructorChunkingIsIdempotent feeds the same stream whole and split
// at every byte offset, flushing between chunks, and compares sealed records.
func TestReconstructorChunkingIsIdempotent(t *testing.T) {
	stream := "\x1b[32mok\x1b[0m line one\r\npartial" +
		" continued\nbäck\bk\n\x1b]0;title\x07\n\x1b[1;31merr\x1b[0m\n" +
		"✓ done\ntail"

	sealed := func(records []Record) []Record {
		var out []Record
		for _, rec := range records {
			if !rec.Open {
				out = append(out, rec)
			}
		}
		return out
	}

	whole := newTestReconstructor(newBatchSinkDiscard(), clock.NewMock())
	whole.Feed("s", []byte(stream))
	whole.Flush("s")
	want := sealed(whole.Lines("s", 0))
	whole.Shutdown()

	if len(want) == 0 {
		t.Fatal("expected sealed records from whole stream")
	}

	for cut := 1; cut < len(stream); cut++ {
		r := newTestReconstructor(newBatchSinkDiscard(), clock.NewMock())
		r.Feed("s", []byte(stream[:cut]))
		r.Flush("s")
		r.Feed("s", []byte(stream[cut:]))
		r.Flush("s")
		got := sealed(r.Lines("s", 0))
		r.Shutdown()

		if !reflect.DeepEqual(got, want) {
			t.Fatalf("cut at %d: sealed = %q, want %q", cut, texts(got), texts(want))
		}
	}
}

func newBatchSinkDiscard() *batchSink {
	return &batchSink{ch: make(chan Batch, 1024)}
}

func TestReconstructorAppendSealsOpenLine(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("$ "))
	r.Flush("s")
	<-sink.ch

	rec := r.Append("s", LineInput, "> ls")
	if rec.Type != LineInput || rec.Text != "> ls" {
		t.Fatalf("Append() = %+v", rec)
	}

	b := <-sink.ch
	if len(b.Records) != 2 {
		t.Fatalf("records = %+v, want sealed prompt plus input echo", b.Records)
	}
	if b.Records[0].Open || b.Records[0].Text != "$ " {
		t.Errorf("first record = %+v, want sealed \"$ \"", b.Records[0])
	}

	r.Feed("s", []byte("file\n"))
	r.Flush("s")
	next := <-sink.ch
	if next.Records[0].Seq <= rec.Seq || next.Records[0].Type != LineOutput {
		t.Errorf("output after Append = %+v, want a new output record", next.Records[0])
	}
}

func TestReconstructorAppendFlushesPendingFirst(t *testing.T) {
	mock := clock.NewMock()
	sink := newBatchSink()
	r := newTestReconstructor(sink, mock)
	defer r.Shutdown()

	r.Feed("s", []byte("before\n"))
	r.Append("s", LineInfo, "[Shell process exited]")

	first := <-sink.ch
	second := <-sink.ch
	if first.Records[0].Text != "before" {
		t.Errorf("first batch = %+v, want pending output first", first.Records)
	}
	if second.Records[0].Type != LineInfo {
		t.Errorf("second batch = %+v, want info record", second.Records)
	}
}

func TestReconstructorClear(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("one\ntwo"))
	r.Flush("s")
	<-sink.ch

	r.Clear("s")
	b := <-sink.ch
	if !b.Cleared {
		t.Fatal("expected cleared batch")
	}
	if n := len(r.Lines("s", 0)); n != 0 {
		t.Fatalf("Lines() after Clear = %d, want 0", n)
	}

	r.Feed("s", []byte("three\n"))
	r.Flush("s")
	next := <-sink.ch
	if next.Records[0].Text != "three" || next.Records[0].Seq != 3 {
		t.Fatalf("record after clear = %+v, want new record Seq 3", next.Records[0])
	}
}

func TestReconstructorScrollbackLimit(t *testing.T) {
	r := New(nil, Options{Clock: clock.NewMock(), Scrollback: 10})
	defer r.Shutdown()

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("line\n")
	}
	r.Feed("s", []byte(sb.String()))
	r.Flush("s")

	lines := r.Lines("s", 0)
	if len(lines) != 10 {
		t.Fatalf("Lines() len = %d, want 10", len(lines))
	}
	if lines[9].Seq != 50 {
		t.Errorf("newest Seq = %d, want 50", lines[9].Seq)
	}
	if got := r.Lines("s", 3); len(got) != 3 || got[2].Seq != 50 {
		t.Errorf("Lines(3) = %+v", got)
	}
}

func TestReconstructorDropCancelsTimer(t *testing.T) {
	mock := clock.NewMock()
	sink := newBatchSink()
	r := newTestReconstructor(sink, mock)
	defer r.Shutdown()

	r.Feed("s", []byte("never shown\n"))
	r.Drop("s")
	mock.Add(time.Second)

	select {
	case b := <-sink.ch:
		t.Fatalf("dropped session flushed: %+v", b)
	case <-time.After(50 * time.Millisecond):
	}
	if r.Sessions() != 0 {
		t.Fatalf("Sessions() = %d, want 0", r.Sessions())
	}
}

func TestReconstructorCloseFlushesTail(t *testing.T) {
	sink := newBatchSink()
	r := newTestReconstructor(sink, clock.NewMock())
	defer r.Shutdown()

	r.Feed("s", []byte("bye caf\xc3"))
	r.Close("s")

	b := <-sink.ch
	if b.Records[0].Text != "bye caf\xc3" {
		t.Fatalf("final record = %q, want held-back bytes included", b.Records[0].Text)
	}
	if r.Sessions() != 0 {
		t.Fatal("Close must discard the buffer")
	}
}

func TestReconstructorStaleTimerAfterRecreate(t *testing.T) {
	mock := clock.NewMock()
	sink := newBatchSink()
	r := newTestReconstructor(sink, mock)
	defer r.Shutdown()

	r.Feed("s", []byte("old"))
	r.Drop("s")
	r.Feed("s", []byte("new\n"))
	mock.Add(20 * time.Millisecond)

	select {
	case b := <-sink.ch:
		if got := texts(b.Records); !reflect.DeepEqual(got, []string{"new"}) {
			t.Fatalf("records = %q, want [\"new\"]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for batch")
	}
}

// waitLines polls until the retained records of id read want. Mock timer
// callbacks run on their own goroutine.
func waitLines(t *testing.T, r *Reconstructor, id string, want []string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	var got []string
	for time.Now().Before(deadline) {
		got = texts(r.Lines(id, 0))
		if reflect.DeepEqual(got, want) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Lines(%q) = %q, want %q", id, got, want)
}

func TestReconstructorMalformedStringSequenceIsNotWithheld(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"stray OSC", "hello\x1b]bad\nworld\nprompt$ ", []string{"hello\x1b]bad", "world", "prompt$ "}},
		{"stray DCS", "size: 10\x1bP then\ndone\n$ ", []string{"size: 10\x1bP then", "done", "$ "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := clock.NewMock()
			r := newTestReconstructor(newBatchSinkDiscard(), mock)
			defer r.Shutdown()

			r.Feed("s", []byte(tt.input))
			mock.Add(20 * time.Millisecond)

			waitLines(t, r, "s", tt.want)
		})
	}
}

func TestReconstructorHeldTailFlushedWhenIdle(t *testing.T) {
	mock := clock.NewMock()
	r := newTestReconstructor(newBatchSinkDiscard(), mock)
	defer r.Shutdown()

	r.Feed("s", []byte("$ \x1b]0;tit"))
	mock.Add(16 * time.Millisecond)
	waitLines(t, r, "s", []string{"$ "})

	// No further input: the unfinished sequence is emitted after one more delay.
	mock.Add(16 * time.Millisecond)
	waitLines(t, r, "s", []string{"$ \x1b]0;tit"})
}

func TestReconstructorHeldTailCompletedByNextChunk(t *testing.T) {
	mock := clock.NewMock()
	r := newTestReconstructor(newBatchSinkDiscard(), mock)
	defer r.Shutdown()

	r.Feed("s", []byte("$ \x1b]0;tit"))
	mock.Add(16 * time.Millisecond)
	waitLines(t, r, "s", []string{"$ "})
	r.Feed("s", []byte("le\x07ok\n"))
	mock.Add(16 * time.Millisecond)

	waitLines(t, r, "s", []string{"$ ok"})
}
