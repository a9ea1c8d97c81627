package stream

import (
	"bufio"
	"io"
	"strings"
)

// Record is one server-sent event.
type Record struct {
	Event string
	ID    string
	Data  string
}

// Reader splits a text/event-stream body into records. Records end at a
// blank line; data lines are joined with newlines and comment lines are
// skipped.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next record that carries data. It returns io.EOF once the
// stream ends; a record cut off by the end of the stream is dropped.
func (r *Reader) Next() (Record, error) {
	var (
		rec     Record
		data    []string
		hasData bool
	)
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return Record{}, io.EOF
			}
			if err != io.EOF {
				return Record{}, err
			}
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err == io.EOF {
				return Record{}, io.EOF
			}
			if hasData {
				rec.Data = strings.Join(data, "\n")
				return rec, nil
			}
			rec = Record{}
			continue
		}
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			rec.Event = value
		case "id":
			rec.ID = value
		}
	}
}
