package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// lineDecoder extracts trimmed, non-empty lines from a byte stream.
//
// Reads are buffered and sequential, so partial lines and multi-byte UTF-8
// sequences split across network reads are reassembled before a line is
// handed out. A trailing line without a newline is returned before EOF.
type lineDecoder struct {
	r *bufio.Reader
}

func newLineDecoder(r io.Reader) *lineDecoder {
	return &lineDecoder{r: bufio.NewReaderSize(r, 64<<10)}
}

func (d *lineDecoder) next() (string, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					return trimmed, nil
				}
				return "", io.EOF
			}
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return line, nil
	}
}

// framePayload strips the SSE data prefix when present. Frames arrive as
// "data: <payload>"; lines without the prefix are treated as bare payloads.
func framePayload(line string) string {
	if rest, ok := strings.CutPrefix(line, "data:"); ok {
		return strings.TrimSpace(rest)
	}
	return line
}

// doneSentinel is the payload that signals logical end-of-stream ahead of
// transport closure.
const doneSentinel = "[DONE]"
