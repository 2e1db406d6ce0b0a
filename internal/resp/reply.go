package resp

import (
	"bufio"
	"fmt"
	"io"
)

// ReplyReader reads one framed reply at a time from a backend connection,
// preserving the exact on-wire bytes. Per spec.md §9 ("Raw reply copy") the
// forwarder must emit the bytes the backend produced verbatim, not
// re-serialize a parsed value, so ReadRaw returns the raw frame.
type ReplyReader struct {
	r *bufio.Reader
}

// NewReplyReader wraps r (expected to already be buffered, or is wrapped
// here if not) for reply framing.
func NewReplyReader(r io.Reader) *ReplyReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &ReplyReader{r: br}
	}
	return &ReplyReader{r: bufio.NewReaderSize(r, 16*1024)}
}

// ReadRaw reads exactly one RESP reply (simple string, error, integer, bulk
// string, or array, including nested arrays) and returns the raw bytes that
// made it up, unmodified.
func (rr *ReplyReader) ReadRaw() ([]byte, error) {
	var out []byte
	if err := rr.readInto(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (rr *ReplyReader) readInto(out *[]byte) error {
	line, err := rr.r.ReadBytes('\n')
	if err != nil {
		return err
	}
	*out = append(*out, line...)
	if len(line) == 0 {
		return fmt.Errorf("resp: empty reply line")
	}
	switch line[0] {
	case '+', '-', ':':
		return nil
	case '$':
		n, ok := parseInt(trimLineCRLF(line[1:]))
		if !ok {
			return fmt.Errorf("resp: invalid bulk length in %q", line)
		}
		if n < 0 {
			return nil // null bulk string, nothing further to read
		}
		body := make([]byte, n+2)
		if _, err := io.ReadFull(rr.r, body); err != nil {
			return err
		}
		*out = append(*out, body...)
		return nil
	case '*':
		n, ok := parseInt(trimLineCRLF(line[1:]))
		if !ok {
			return fmt.Errorf("resp: invalid array length in %q", line)
		}
		for i := 0; i < n; i++ {
			if err := rr.readInto(out); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("resp: unknown reply type byte %q", line[0])
	}
}

func trimLineCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// IsError reports whether a raw reply frame is a RESP error.
func IsError(raw []byte) bool {
	return len(raw) > 0 && raw[0] == '-'
}

// ErrorMessage strips the leading '-' and trailing CRLF from an error frame.
func ErrorMessage(raw []byte) string {
	return string(trimLineCRLF(bytesTrimPrefix(raw, '-')))
}

func bytesTrimPrefix(b []byte, c byte) []byte {
	if len(b) > 0 && b[0] == c {
		return b[1:]
	}
	return b
}

// FormatError renders msg as a single-line RESP error frame, e.g. the local
// errors the proxy generates (spec.md §6, §7).
func FormatError(msg string) []byte {
	return []byte("-" + msg + "\r\n")
}

// FormatSimpleString renders msg as a RESP simple string frame.
func FormatSimpleString(msg string) []byte {
	return []byte("+" + msg + "\r\n")
}

// ParseBulkString extracts the payload of a bulk-string reply frame as
// produced by ReadRaw, used at bootstrap to unwrap the node-table text out
// of its wire envelope before handing it to topology.BuildFromNodesReply.
func ParseBulkString(raw []byte) (string, bool) {
	if len(raw) == 0 || raw[0] != '$' {
		return "", false
	}
	nl := indexByte(raw, '\n')
	if nl == -1 {
		return "", false
	}
	n, ok := parseInt(trimLineCRLF(raw[1:nl]))
	if !ok || n < 0 {
		return "", false
	}
	start := nl + 1
	if start+n > len(raw) {
		return "", false
	}
	return string(raw[start : start+n]), true
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
