// Package parser implements an incremental HTTP/1.1 response parser. It is
// a from-scratch byte scanner in the same style as indigo's own
// request-line/header scanner: a switch-driven state machine over
// scratch buffers borrowed from github.com/indigo-web/utils/buffer,
// emitting callbacks in strict order and supporting Pause/Unpause so the
// driver regains control after each semantic event.
package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/buffer"
	"github.com/indigo-web/utils/uf"
)

// StatusLine is delivered once, by the first callback the adapter fires.
type StatusLine struct {
	Major, Minor int
	Code         int
	Reason       string
}

// Callbacks mirrors the ordered event set a response scan produces:
// status, then zero or more header field/value pairs, then headers
// complete. Body and chunk framing are handled outside the adapter by the
// connection state machine, which owns the content-length/chunked
// dispatch and delegates chunk decoding to chunkedbody.Parser directly.
type Callbacks struct {
	OnStatus          func(StatusLine)
	OnHeaderField     func(name string)
	OnHeaderValue     func(name, value string)
	OnHeadersComplete func(contentLength int)
}

type state uint8

const (
	stProto state = iota + 1
	stCode
	stReason
	stHeaderKey
	stHeaderKeyCR
	stHeaderColon
	stHeaderValue
	stHeaderValueCR
	stDone
)

// Adapter is a single-use, single-response parser instance. The connection
// state machine discards it and creates a fresh one at every logical
// boundary: keep-alive reuse, redirect chaining, and stale-socket restart.
type Adapter struct {
	cb     Callbacks
	state  state
	paused bool

	respLineBuf   *buffer.Buffer[byte]
	headerBuf     *buffer.Buffer[byte]
	headerKey     string
	major, minor  int
	code          int
	contentLength int
	sawLength     bool
	chunked       bool
}

// New returns an adapter ready to parse a status line and headers.
func New(cb Callbacks) *Adapter {
	respLine := buffer.NewBuffer[byte](0, 4096)
	headers := buffer.NewBuffer[byte](0, 8192)

	return &Adapter{
		cb:          cb,
		state:       stProto,
		respLineBuf: &respLine,
		headerBuf:   &headers,
	}
}

// Pause stops Execute from consuming further bytes until Unpause is
// called. It is called by the connection from inside a callback, so that a
// response spanning multiple TCP reads still yields control back to the
// driver after each semantic event (status parsed; headers complete).
func (a *Adapter) Pause() {
	a.paused = true
}

func (a *Adapter) Unpause() {
	a.paused = false
}

// Reset prepares the adapter to parse a fresh response, for keep-alive
// reuse.
func (a *Adapter) Reset() {
	a.state = stProto
	a.paused = false
	a.respLineBuf.Clear()
	a.headerBuf.Clear()
	a.headerKey = ""
	a.major, a.minor, a.code = 0, 0, 0
	a.contentLength = 0
	a.sawLength = false
	a.chunked = false
}

// ChunkedTransferEncoding reports whether the just-completed headers
// declared "Transfer-Encoding: chunked".
func (a *Adapter) ChunkedTransferEncoding() bool {
	return a.chunked
}

// Execute feeds data to the parser and returns how many leading bytes it
// consumed. A caller advances its own read buffer by that amount. Zero
// progress is only ever returned while paused or genuinely starved of a
// delimiter; treating consumed == 0 as a parse failure is only correct at
// the status/headers phases, which the connection enforces by bounding
// those reads with ReadUntil.
func (a *Adapter) Execute(data []byte) (consumed int, err error) {
	original := len(data)

	for len(data) > 0 && !a.paused {
		switch a.state {
		case stProto:
			data, err = a.stepProto(data)
		case stCode:
			data, err = a.stepCode(data)
		case stReason:
			data, err = a.stepReason(data)
		case stHeaderKey:
			data, err = a.stepHeaderKey(data)
		case stHeaderKeyCR:
			data, err = a.stepHeaderKeyCR(data)
		case stHeaderColon:
			data, err = a.stepHeaderColon(data)
		case stHeaderValue:
			data, err = a.stepHeaderValue(data)
		case stHeaderValueCR:
			data, err = a.stepHeaderValueCR(data)
		case stDone:
			return original - len(data), nil
		}

		if err != nil {
			return original - len(data), err
		}
	}

	return original - len(data), nil
}

func (a *Adapter) stepProto(data []byte) ([]byte, error) {
	sp := bytes.IndexByte(data, ' ')
	if sp == -1 {
		if !a.respLineBuf.Append(data...) {
			return nil, fmt.Errorf("response line too long")
		}

		return nil, nil
	}

	if !a.respLineBuf.Append(data[:sp]...) {
		return nil, fmt.Errorf("response line too long")
	}

	major, minor, err := parseHTTPVersion(uf.B2S(a.respLineBuf.Finish()))
	if err != nil {
		return nil, err
	}

	a.major, a.minor = major, minor
	a.state = stCode

	return data[sp+1:], nil
}

func (a *Adapter) stepCode(data []byte) ([]byte, error) {
	for i := 0; i < len(data); i++ {
		if data[i] == ' ' {
			a.state = stReason
			return data[i+1:], nil
		}

		if data[i] < '0' || data[i] > '9' {
			return nil, fmt.Errorf("invalid status code byte %q", data[i])
		}

		a.code = a.code*10 + int(data[i]-'0')
	}

	return nil, nil
}

func (a *Adapter) stepReason(data []byte) ([]byte, error) {
	lf := bytes.IndexByte(data, '\n')
	if lf == -1 {
		if !a.respLineBuf.Append(data...) {
			return nil, fmt.Errorf("status reason too long")
		}

		return nil, nil
	}

	if !a.respLineBuf.Append(data[:lf]...) {
		return nil, fmt.Errorf("status reason too long")
	}

	reason := uf.B2S(rstripCR(a.respLineBuf.Finish()))

	if a.cb.OnStatus != nil {
		a.cb.OnStatus(StatusLine{Major: a.major, Minor: a.minor, Code: a.code, Reason: reason})
	}

	a.state = stHeaderKey
	rest := data[lf+1:]
	a.Pause()

	return rest, nil
}

func (a *Adapter) stepHeaderKey(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '\r':
		a.state = stHeaderKeyCR
		return data[1:], nil
	case '\n':
		a.finishHeaders()
		return data[1:], nil
	}

	colon := bytes.IndexByte(data, ':')
	if colon == -1 {
		if !a.headerBuf.Append(data...) {
			return nil, fmt.Errorf("header key too long")
		}

		return nil, nil
	}

	if !a.headerBuf.Append(data[:colon]...) {
		return nil, fmt.Errorf("header key too long")
	}

	a.headerKey = string(a.headerBuf.Finish())
	if a.cb.OnHeaderField != nil {
		a.cb.OnHeaderField(a.headerKey)
	}

	a.state = stHeaderColon

	return data[colon+1:], nil
}

func (a *Adapter) stepHeaderKeyCR(data []byte) ([]byte, error) {
	if data[0] != '\n' {
		return nil, fmt.Errorf("malformed header terminator")
	}

	a.finishHeaders()

	return data[1:], nil
}

func (a *Adapter) stepHeaderColon(data []byte) ([]byte, error) {
	for i := 0; i < len(data); i++ {
		if data[i] != ' ' {
			a.state = stHeaderValue
			return data[i:], nil
		}
	}

	return nil, nil
}

func (a *Adapter) stepHeaderValue(data []byte) ([]byte, error) {
	lf := bytes.IndexByte(data, '\n')
	if lf == -1 {
		if !a.headerBuf.Append(data...) {
			return nil, fmt.Errorf("header value too long")
		}

		return nil, nil
	}

	if !a.headerBuf.Append(data[:lf]...) {
		return nil, fmt.Errorf("header value too long")
	}

	value := uf.B2S(rstripCR(a.headerBuf.Finish()))
	a.observeHeader(a.headerKey, value)

	if a.cb.OnHeaderValue != nil {
		a.cb.OnHeaderValue(a.headerKey, value)
	}

	a.headerKey = ""
	a.state = stHeaderKey

	return data[lf+1:], nil
}

func (a *Adapter) stepHeaderValueCR(data []byte) ([]byte, error) {
	if data[0] != '\n' {
		return nil, fmt.Errorf("malformed header terminator")
	}

	a.finishHeaders()

	return data[1:], nil
}

func (a *Adapter) observeHeader(key, value string) {
	switch {
	case strings.EqualFold(key, "content-length"):
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			a.contentLength = n
			a.sawLength = true
		}
	case strings.EqualFold(key, "transfer-encoding"):
		if strings.Contains(strings.ToLower(value), "chunked") {
			a.chunked = true
		}
	}
}

func (a *Adapter) finishHeaders() {
	a.state = stDone

	// Content-Length takes priority over Transfer-Encoding: chunked when a
	// (non-conforming) response declares both.
	declared := -1
	if a.sawLength {
		declared = a.contentLength
	}

	if a.cb.OnHeadersComplete != nil {
		a.cb.OnHeadersComplete(declared)
	}

	a.Pause()
}

func parseHTTPVersion(proto string) (major, minor int, err error) {
	const prefix = "HTTP/"

	if !strings.HasPrefix(proto, prefix) || len(proto) != len(prefix)+3 || proto[len(prefix)+1] != '.' {
		return 0, 0, fmt.Errorf("unsupported protocol %q", proto)
	}

	major = int(proto[len(prefix)] - '0')
	minor = int(proto[len(prefix)+2] - '0')

	if major < 0 || major > 9 || minor < 0 || minor > 9 {
		return 0, 0, fmt.Errorf("unsupported protocol %q", proto)
	}

	return major, minor, nil
}

func rstripCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	}

	return b
}
