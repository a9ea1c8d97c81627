package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, body string) []Record {
	t.Helper()
	r := NewReader(strings.NewReader(body))
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestReaderSplitsRecords(t *testing.T) {
	body := ": connected\n\n" +
		"data: {\"id\":\"1\"}\n\n" +
		"event: build\nid: 7\ndata: {\"id\":\n" +
		"data: \"2\"}\n\n" +
		"data:{\"id\":\"3\"}\r\n\r\n"
	got := readAll(t, body)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d: %+v", len(got), got)
	}
	if got[0].Data != `{"id":"1"}` {
		t.Fatalf("unexpected first record %+v", got[0])
	}
	if got[1].Data != "{\"id\":\n\"2\"}" || got[1].Event != "build" || got[1].ID != "7" {
		t.Fatalf("unexpected multi-line record %+v", got[1])
	}
	if got[2].Data != `{"id":"3"}` {
		t.Fatalf("unexpected crlf record %+v", got[2])
	}
}

func TestReaderSkipsRecordsWithoutData(t *testing.T) {
	got := readAll(t, ": ping\n\nevent: noop\n\n\n\ndata: x\n\n")
	if len(got) != 1 || got[0].Data != "x" || got[0].Event != "" {
		t.Fatalf("unexpected records %+v", got)
	}
}

func TestReaderDropsTruncatedRecord(t *testing.T) {
	got := readAll(t, "data: complete\n\ndata: partial")
	if len(got) != 1 || got[0].Data != "complete" {
		t.Fatalf("unexpected records %+v", got)
	}
	got = readAll(t, "data: complete\n\ndata: partial\n")
	if len(got) != 1 {
		t.Fatalf("record without terminating blank line must be dropped, got %+v", got)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestReaderReportsReadErrors(t *testing.T) {
	r := NewReader(failingReader{})
	if _, err := r.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected read error, got %v", err)
	}
}
