package gemini

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const maxEventSize = 1 << 20

var errEventTooLarge = errors.New("stream event exceeds maximum size")

// eventReader splits a server-sent event body into data payloads.
type eventReader struct {
	reader *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the data of the next event, joining multi-line data fields.
// It returns io.EOF once the body is exhausted.
func (e *eventReader) next() ([]byte, error) {
	var dataLines [][]byte
	size := 0

	for {
		line, err := e.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(bytes.TrimSpace(line)) > 0 {
					dataLines = appendData(dataLines, bytes.TrimRight(line, "\r\n"))
				}
				if len(dataLines) > 0 {
					return bytes.Join(dataLines, []byte("\n")), nil
				}
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		size += len(line)
		if size > maxEventSize {
			return nil, errEventTooLarge
		}
		dataLines = appendData(dataLines, line)
	}
}

// appendData keeps data fields and ignores event, id, retry and comments.
func appendData(dataLines [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dataLines
	}
	return append(dataLines, bytes.TrimSpace(line[len("data:"):]))
}
