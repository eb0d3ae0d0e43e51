package transport

import (
	"bytes"
	"strings"
)

// ScanCRLF is a bufio.SplitFunc returning CRLF-terminated lines without
// the terminator. A trailing fragment without CRLF at EOF is returned as
// a final line.
func ScanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\r\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// LineAssembler rebuilds CRLF-terminated lines from chunks that may cut
// a line, or a CRLF pair, anywhere.
type LineAssembler struct {
	pending strings.Builder
}

// Feed adds a chunk and returns the lines it completes.
func (a *LineAssembler) Feed(chunk string) []string {
	var lines []string
	if a.pending.Len() > 0 {
		chunk = a.pending.String() + chunk
		a.pending.Reset()
	}
	for {
		i := strings.Index(chunk, "\r\n")
		if i < 0 {
			break
		}
		lines = append(lines, chunk[:i])
		chunk = chunk[i+2:]
	}
	a.pending.WriteString(chunk)
	return lines
}

// Pending returns the length of the incomplete line held back.
func (a *LineAssembler) Pending() int { return a.pending.Len() }
