package transport

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// STOMP commands used by the client.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
	CmdReceipt     = "RECEIPT"
)

// ErrMalformedFrame is returned when a frame cannot be parsed.
var ErrMalformedFrame = errors.New("malformed frame")

// Header is a single frame header. Order is preserved on the wire.
type Header struct {
	Key   string
	Value string
}

// Frame is one STOMP 1.2 frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating key/value header pairs.
func NewFrame(command string, body []byte, kv ...string) *Frame {
	f := &Frame{Command: command, Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Get returns the first value for key. Repeated headers keep the first
// occurrence, as the protocol requires.
func (f *Frame) Get(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Encode serializes the frame including the trailing NUL.
func (f *Frame) Encode() []byte {
	var buf bytes.Buffer
	escape := f.Command != CmdConnect && f.Command != CmdConnected
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for _, h := range f.Headers {
		if escape {
			buf.WriteString(escapeHeader(h.Key))
			buf.WriteByte(':')
			buf.WriteString(escapeHeader(h.Value))
		} else {
			buf.WriteString(h.Key)
			buf.WriteByte(':')
			buf.WriteString(h.Value)
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Decode parses a single frame. A payload made only of end-of-line bytes is
// a heart-beat and decodes to (nil, nil).
func Decode(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	end := bytes.IndexByte(data, '\n')
	if end < 0 {
		return nil, fmt.Errorf("%w: missing command line", ErrMalformedFrame)
	}
	f := &Frame{Command: strings.TrimSuffix(string(data[:end]), "\r")}
	if f.Command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}
	unescape := f.Command != CmdConnect && f.Command != CmdConnected
	rest := data[end+1:]

	for {
		end = bytes.IndexByte(rest, '\n')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated headers", ErrMalformedFrame)
		}
		line := strings.TrimSuffix(string(rest[:end]), "\r")
		rest = rest[end+1:]
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", ErrMalformedFrame, line)
		}
		if unescape {
			key, value = unescapeHeader(key), unescapeHeader(value)
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}

	if cl := f.Get("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(rest) {
			return nil, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, cl)
		}
		f.Body = rest[:n]
		return f, nil
	}

	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return nil, fmt.Errorf("%w: missing NUL terminator", ErrMalformedFrame)
	}
	f.Body = rest[:nul]
	return f, nil
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

func escapeHeader(s string) string   { return headerEscaper.Replace(s) }
func unescapeHeader(s string) string { return headerUnescaper.Replace(s) }
