package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdDisconnect  = "DISCONNECT"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
)

// ErrMalformedFrame is returned when data cannot be parsed as STOMP frames.
var ErrMalformedFrame = errors.New("malformed stomp frame")

// Header is a single frame header. Order is preserved because the first
// occurrence of a repeated key wins.
type Header struct {
	Key   string
	Value string
}

// Frame is a STOMP 1.2 frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame builds a frame from alternating key, value pairs.
func NewFrame(command string, body []byte, kv ...string) Frame {
	f := Frame{Command: command, Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Headers = append(f.Headers, Header{Key: kv[i], Value: kv[i+1]})
	}
	return f
}

// Header returns the value of the first header named key.
func (f Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Encode serializes f. A content-length header is added when the frame has a
// body and does not already carry one.
func (f Frame) Encode() []byte {
	escape := escapes(f.Command)

	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for _, h := range f.Headers {
		if escape {
			b.WriteString(escapeHeader(h.Key))
			b.WriteByte(':')
			b.WriteString(escapeHeader(h.Value))
		} else {
			b.WriteString(h.Key)
			b.WriteByte(':')
			b.WriteString(h.Value)
		}
		b.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Header("content-length") == "" {
		b.WriteString("content-length:")
		b.WriteString(strconv.Itoa(len(f.Body)))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Decode parses every frame in data. Heart-beat EOLs between frames are
// skipped, so data holding only heart-beats yields no frames.
func Decode(data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		data = skipEOL(data)
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := decodeOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func decodeOne(data []byte) (Frame, []byte, error) {
	command, data, ok := cutLine(data)
	if !ok || command == "" {
		return Frame{}, nil, fmt.Errorf("%w: missing command", ErrMalformedFrame)
	}
	f := Frame{Command: command}
	escape := escapes(command)

	for {
		var line string
		line, data, ok = cutLine(data)
		if !ok {
			return Frame{}, nil, fmt.Errorf("%w: unterminated headers", ErrMalformedFrame)
		}
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			return Frame{}, nil, fmt.Errorf("%w: header %q has no colon", ErrMalformedFrame, line)
		}
		if escape {
			var err error
			if key, err = unescapeHeader(key); err != nil {
				return Frame{}, nil, err
			}
			if value, err = unescapeHeader(value); err != nil {
				return Frame{}, nil, err
			}
		}
		f.Headers = append(f.Headers, Header{Key: key, Value: value})
	}

	if cl := f.Header("content-length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return Frame{}, nil, fmt.Errorf("%w: bad content-length %q", ErrMalformedFrame, cl)
		}
		if len(data) < n+1 || data[n] != 0 {
			return Frame{}, nil, fmt.Errorf("%w: body shorter than content-length", ErrMalformedFrame)
		}
		f.Body = data[:n]
		return f, data[n+1:], nil
	}

	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return Frame{}, nil, fmt.Errorf("%w: missing NUL terminator", ErrMalformedFrame)
	}
	f.Body = data[:i]
	return f, data[i+1:], nil
}

// CONNECT and CONNECTED headers are never escaped.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

func skipEOL(data []byte) []byte {
	for len(data) > 0 && (data[0] == '\n' || data[0] == '\r') {
		data = data[1:]
	}
	return data
}

func cutLine(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", data, false
	}
	return strings.TrimSuffix(string(data[:i]), "\r"), data[i+1:], true
}

var headerEscaper = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("%w: dangling escape in %q", ErrMalformedFrame, s)
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("%w: invalid escape \\%c", ErrMalformedFrame, s[i])
		}
	}
	return b.String(), nil
}
