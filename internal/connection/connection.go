package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/indigo-web/chunkedbody"
	pkgerrors "github.com/pkg/errors"

	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/internal/logx"
	"github.com/idfumg/crequests/internal/metrics"
	"github.com/idfumg/crequests/internal/parser"
	"github.com/idfumg/crequests/internal/stream"
	"github.com/idfumg/crequests/internal/timers"
	"github.com/idfumg/crequests/redirect"
)

// Deps groups the collaborators a Connection needs but doesn't own:
// injected so tests can swap a mock clock, a silent logger, or a fake
// dialer without touching the state machine.
type Deps struct {
	Clock     clock.Clock
	Logger    *logx.Logger
	Metrics   *metrics.Metrics
	Resolver  *net.Resolver
	NewStream func() stream.Stream
	ConnID    string
}

func (d Deps) newStream() stream.Stream {
	if d.NewStream != nil {
		return d.NewStream()
	}

	return stream.New()
}

// Connection drives one logical Send() from RESOLVE through a terminal
// state, including any redirect hops and the single stale-socket restart,
// across its own resolve/connect/handshake/write/read_*/perform_redirect
// sequence -- as a goroutine-owned sequential loop rather than a chain of
// callback-driven completion handlers.
type Connection struct {
	deps    Deps
	target  *Target
	strm    stream.Stream
	timers  *timers.Pair
	adapter *parser.Adapter

	// stateMu guards state and finalKeepAlive, since a deadline timer's
	// callback runs on the clock's own goroutine and can still be in
	// flight after Run's goroutine reaches a terminal state.
	stateMu        sync.Mutex
	state          State
	finalKeepAlive bool

	restarted  bool
	timedOut   bool
	redirected int

	headers        []HeaderField
	body           bytes.Buffer
	declaredLength int
	headersDone    bool
}

// New returns a Connection ready to Run against target.
func New(deps Deps, target *Target) *Connection {
	return &Connection{deps: deps, target: target, state: Init}
}

// Run executes the state machine to completion and returns its outcome.
// ctx is handed to DNS resolution, dialing and the TLS handshake, and is
// cancelled when the deadline timer fires. Cancelling ctx from outside
// fails whichever of those steps is in flight, reported under that step's
// error state; it does not interrupt a read or write on an established
// stream.
func (c *Connection) Run(ctx context.Context) Outcome {
	c.timers = timers.New(c.deps.Clock)
	c.setState(Resolve)
	startedAt := c.timers.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A non-positive Timeout still arms: it fires the callback immediately,
	// before any I/O is attempted. The callback itself is state-aware, since
	// a deadline that fires late -- after the attempt already reached a
	// terminal state -- still needs to close a socket that won't be kept
	// alive, matching the defensive close a legacy deadline callback
	// performs when it loses the race against completion.
	c.timers.ArmDeadline(c.target.Timeout, func() {
		if c.isStateFinal() {
			if !c.isFinalKeepAlive() && c.strm != nil && c.strm.IsOpen() {
				_ = c.strm.Close()
			}
			return
		}

		c.timedOut = true
		if c.strm != nil {
			c.strm.Cancel()
		}
		cancel()
	})
	defer c.timers.CancelDeadline()

	for {
		outcome, redirectTo, restart := c.attempt(ctx)

		if restart {
			c.restarted = true
			c.strm = nil
			c.target.Reused = nil
			c.setState(Resolve)
			continue
		}

		if redirectTo != nil {
			if c.strm != nil {
				_ = c.strm.Close()
				c.strm = nil
			}
			c.target = redirectTo
			c.redirected++
			c.headers = nil
			c.body.Reset()
			c.setState(Resolve)
			continue
		}

		c.setFinalKeepAlive(outcome.KeepAlive)
		c.timers.ArmDispose(c.target.StoreTimeout, func() { c.setState(Expired) })

		if c.deps.Metrics != nil {
			c.deps.Metrics.ObserveDuration(c.timers.Now().Sub(startedAt).Seconds())
		}

		return outcome
	}
}

// attempt runs resolve..body-complete once. It returns a non-nil redirect
// target when the response was a followable redirect, or restart == true
// when a reused keep-alive socket needs exactly one fresh retry.
func (c *Connection) attempt(ctx context.Context) (outcome Outcome, redirectTo *Target, restart bool) {
	// A deadline of 0 (or already past) fires synchronously while Run is
	// still arming it, before this method's caller ever gets to loop into
	// it -- catch that here so a reused, already-open stream doesn't get a
	// real write/read attempt started against it after the fact, which
	// would otherwise block on live socket I/O instead of surfacing
	// TIMEOUT immediately.
	if c.timedOut {
		if c.strm == nil && c.target.Reused != nil {
			_ = c.target.Reused.Close()
		}

		return c.timeoutOutcome(), nil, false
	}

	usingReused := c.strm == nil && c.target.Reused != nil

	if usingReused {
		c.strm = c.target.Reused
	} else if c.strm == nil {
		if err := c.resolveAndConnect(ctx); err != nil {
			if c.timedOut {
				return c.timeoutOutcome(), nil, false
			}

			failed := ResolveError
			switch c.state {
			case Connect:
				failed = ConnectError
			case Handshake:
				failed = HandshakeError
			}

			return c.errorOutcome(failed, err), nil, false
		}
	}

	if err := c.writeRequest(); err != nil {
		if c.timedOut {
			return c.timeoutOutcome(), nil, false
		}

		if usingReused && !c.restarted && stream.IsSocketClosed(err) {
			_ = c.strm.Close()
			if c.deps.Metrics != nil {
				c.deps.Metrics.IncRestart()
			}
			return Outcome{}, nil, true
		}

		return c.errorOutcome(WriteError, err), nil, false
	}

	status, err := c.readStatus()
	if err != nil {
		if c.timedOut {
			return c.timeoutOutcome(), nil, false
		}

		if _, bad := err.(parseFailure); bad {
			return c.errorOutcome(ReadStatusDataError, err), nil, false
		}

		if usingReused && !c.restarted && stream.IsSocketClosed(err) {
			_ = c.strm.Close()
			if c.deps.Metrics != nil {
				c.deps.Metrics.IncRestart()
			}
			return Outcome{}, nil, true
		}

		return c.errorOutcome(ReadStatusError, err), nil, false
	}

	contentLength, err := c.readHeaders()
	if err != nil {
		if c.timedOut {
			return c.timeoutOutcome(), nil, false
		}

		return c.errorOutcome(ReadHeadersError, err), nil, false
	}

	if err := c.readBody(contentLength); err != nil {
		if c.timedOut {
			return c.timeoutOutcome(), nil, false
		}

		return c.errorOutcome(bodyErrorState(c.state), err), nil, false
	}

	c.collectCookies()

	if redirectTarget, isRedirect, redirErr := c.checkRedirect(status); isRedirect || redirErr != nil {
		if redirErr != nil {
			return c.errorOutcome(RedirectError, redirErr), nil, false
		}

		if c.redirected+1 > c.target.RedirectLimit {
			return c.errorOutcome(RedirectExhausted, fmt.Errorf("redirect limit %d exceeded", c.target.RedirectLimit)), nil, false
		}

		if c.deps.Metrics != nil {
			c.deps.Metrics.IncRedirect()
		}

		return Outcome{}, redirectTarget, false
	}

	return c.successOutcome(status), nil, false
}

// bodyErrorState maps the busy body-reading state a failure occurred in
// onto its corresponding terminal error state.
func bodyErrorState(busy State) State {
	switch busy {
	case ReadContentLength:
		return ReadContentLengthError
	case ReadChunkHeader:
		return ReadChunkHeaderError
	case ReadChunkData:
		return ReadChunkDataError
	case ReadUntilEOF:
		return ReadUntilEOFError
	default:
		return ReadHeadersError
	}
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()

	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveState(s.String())
	}

	if c.deps.Logger != nil {
		c.deps.Logger.Info(c.deps.ConnID, "state=%s", s)
	}
}

func (c *Connection) isStateFinal() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.state.IsFinal()
}

func (c *Connection) setFinalKeepAlive(v bool) {
	c.stateMu.Lock()
	c.finalKeepAlive = v
	c.stateMu.Unlock()
}

func (c *Connection) isFinalKeepAlive() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.finalKeepAlive
}

func (c *Connection) resolveAndConnect(ctx context.Context) error {
	c.setState(Resolve)

	resolver := c.deps.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	ips, err := resolver.LookupIPAddr(ctx, c.target.Host)
	if err != nil {
		return pkgerrors.Wrap(err, "resolve")
	}

	endpoints := make([]string, 0, len(ips))
	for _, ip := range ips {
		endpoints = append(endpoints, net.JoinHostPort(ip.String(), strconv.Itoa(c.target.Port)))
	}

	c.setState(Connect)
	c.strm = c.deps.newStream()

	if err := c.strm.Connect(ctx, "tcp", endpoints); err != nil {
		return err
	}

	c.strm.SetKeepAlive(c.target.KeepAlive)

	if c.target.TLSConfig != nil {
		c.setState(Handshake)
		if err := c.strm.Handshake(ctx, c.target.TLSConfig, c.target.ServerName); err != nil {
			return err
		}
	}

	return nil
}

func (c *Connection) writeRequest() error {
	c.setState(Write)

	var buf bytes.Buffer
	buf.WriteString(c.target.Method)
	buf.WriteByte(' ')
	buf.WriteString(c.target.URI)
	buf.WriteString(" HTTP/1.1\r\n")

	for _, h := range c.target.Headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}

	buf.WriteString("\r\n")
	buf.Write(c.target.Body)

	return c.strm.Write(buf.Bytes())
}

// readStatus feeds the status line into a fresh Adapter. The adapter
// pauses itself right after firing OnStatus (already positioned at the
// header-parsing state), so readHeaders unpauses the same instance rather
// than starting a second one from scratch.
func (c *Connection) readStatus() (parser.StatusLine, error) {
	c.setState(ReadStatus)

	line, err := c.strm.ReadUntil([]byte("\r\n"))
	if err != nil {
		return parser.StatusLine{}, err
	}

	var status parser.StatusLine
	c.adapter = parser.New(parser.Callbacks{
		OnStatus: func(sl parser.StatusLine) { status = sl },
		OnHeaderValue: func(name, value string) {
			c.headers = append(c.headers, HeaderField{Name: name, Value: value})
		},
		OnHeadersComplete: func(contentLength int) {
			c.declaredLength = contentLength
			c.headersDone = true
		},
	})

	if _, err := c.adapter.Execute(line); err != nil {
		return parser.StatusLine{}, parseFailure{pkgerrors.Wrap(err, "parse status line")}
	}

	return status, nil
}

// parseFailure distinguishes a malformed response from a transport-level
// read error, so the two map onto separate ReadStatusError (I/O) and
// ReadStatusDataError (bad data) states.
type parseFailure struct{ error }

func (p parseFailure) Unwrap() error { return p.error }

func (c *Connection) readHeaders() (declaredLength int, err error) {
	c.setState(ReadHeaders)

	c.declaredLength = -1
	c.headersDone = false
	c.adapter.Unpause()

	for !c.headersDone {
		line, err := c.strm.ReadUntil([]byte("\n"))
		if err != nil {
			return c.declaredLength, err
		}

		if _, err := c.adapter.Execute(line); err != nil {
			return c.declaredLength, pkgerrors.Wrap(err, "parse headers")
		}
	}

	return c.declaredLength, nil
}

func (c *Connection) readBody(declaredLength int) error {
	switch {
	case declaredLength >= 0:
		return c.readFixedLengthBody(declaredLength)
	case c.adapter.ChunkedTransferEncoding():
		return c.readChunkedBody()
	default:
		return c.readUntilEOFBody()
	}
}

const bodyReadChunk = 32 * 1024

func (c *Connection) readFixedLengthBody(length int) error {
	c.setState(ReadContentLength)

	remaining := length
	for remaining > 0 {
		want := remaining
		if want > bodyReadChunk {
			want = bodyReadChunk
		}

		data, err := c.strm.ReadAtLeast(want)
		if err != nil {
			return err
		}

		c.emitBody(data, nil)
		remaining -= len(data)
	}

	c.emitBody(nil, errBodyDone)

	return nil
}

func (c *Connection) readUntilEOFBody() error {
	c.setState(ReadUntilEOF)

	for {
		data, err := c.strm.ReadAtLeast(1)
		if len(data) > 0 {
			c.emitBody(data, nil)
		}

		if err != nil {
			if stream.IsSocketClosed(err) {
				c.emitBody(nil, errBodyDone)
				return nil
			}

			return err
		}
	}
}

// readChunkedBody decodes chunked transfer-encoding framing with
// github.com/indigo-web/chunkedbody.Parser: each raw read is handed to
// Parser.Parse, which returns the decoded chunk, any bytes read past the
// chunk's own framing, and io.EOF once the terminating zero-length chunk
// (and trailer) is seen.
func (c *Connection) readChunkedBody() error {
	chunkParser := chunkedbody.NewParser(chunkedbody.DefaultSettings())
	hasTrailer := c.headerValue("Trailer") != ""

	for {
		c.setState(ReadChunkHeader)

		data, err := c.strm.ReadSome()
		if err != nil {
			// A peer that closes the socket while the next chunk header is
			// still pending is tolerated as a completed body, whether or not
			// it ever sent the terminating zero-length chunk -- the same
			// leniency readUntilEOFBody gives an unframed body. A closed
			// socket while decoding a chunk already in flight (ReadChunkData)
			// is a genuine truncation and is not covered by this branch.
			if stream.IsSocketClosed(err) {
				c.emitBody(nil, errBodyDone)
				return nil
			}

			return err
		}

		c.setState(ReadChunkData)

		chunk, extra, perr := chunkParser.Parse(data, hasTrailer)
		switch perr {
		case nil, io.EOF:
		default:
			return perr
		}

		if len(chunk) > 0 {
			c.emitBody(chunk, nil)
		}

		c.strm.Unread(extra)

		if perr == io.EOF {
			c.emitBody(nil, errBodyDone)
			return nil
		}
	}
}

var errBodyDone = errors.New("body complete")

func (c *Connection) emitBody(chunk []byte, err error) {
	if c.target.OnBodyChunk != nil {
		if err == errBodyDone {
			c.target.OnBodyChunk(nil, nil)
			return
		}

		c.target.OnBodyChunk(chunk, nil)
		return
	}

	if err != errBodyDone {
		c.body.Write(chunk)
	}
}

func (c *Connection) collectCookies() {
	for _, h := range c.headers {
		if !strings.EqualFold(h.Name, "set-cookie") {
			continue
		}

		path, _, _ := strings.Cut(c.target.URI, "?")
		ck := cookie.Parse(h.Value).StampOrigin(c.target.Host, path)
		c.target.Cookies.Add(ck)
	}
}

func (c *Connection) checkRedirect(status parser.StatusLine) (next *Target, isRedirect bool, err error) {
	if !c.target.Redirect {
		return nil, false, nil
	}

	switch status.Code {
	case 301, 302, 303:
	default:
		return nil, false, nil
	}

	location := c.headerValue("Location")
	if location == "" {
		return nil, false, fmt.Errorf("redirect status %d without Location header", status.Code)
	}

	next, buildErr := c.buildRedirectTarget(location, status.Code)
	if buildErr != nil {
		return nil, false, buildErr
	}

	c.target.History.Add(redirect.Hop{
		Request: c.target.Fingerprint,
		Status:  status.Code,
		Location: location,
	})

	return next, true, nil
}

func (c *Connection) buildRedirectTarget(location string, statusCode int) (*Target, error) {
	base := &url.URL{Scheme: c.target.Scheme, Host: c.target.endpoint(), Path: c.target.URI}

	loc, err := url.Parse(location)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parse Location")
	}

	resolved := base.ResolveReference(loc)

	next := *c.target
	next.Scheme = resolved.Scheme
	host, portStr, splitErr := net.SplitHostPort(resolved.Host)
	if splitErr != nil {
		host = resolved.Host
		if next.Scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	next.Host = host
	next.Port, _ = strconv.Atoi(portStr)
	next.URI = resolved.RequestURI()
	next.Reused = nil

	// A 303 always downgrades to GET, and 301/302 downgrade a POST to GET
	// too, matching how mainstream HTTP clients treat legacy redirect codes.
	if statusCode == 303 || (c.target.Method == "POST" && (statusCode == 301 || statusCode == 302)) {
		next.Method = "GET"
		next.Body = nil
	}

	next.History = c.target.History
	next.Fingerprint = redirect.Fingerprint{
		Scheme: next.Scheme, Host: next.Host, Port: next.Port,
		Path: resolved.Path, Query: resolved.RawQuery, Method: next.Method,
	}

	return &next, nil
}

func (c *Connection) headerValue(name string) string {
	for _, h := range c.headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}

	return ""
}

func (c *Connection) successOutcome(status parser.StatusLine) Outcome {
	c.setState(Success)

	if c.redirected > 0 {
		c.target.History.SetTerminal(c.terminalRequest())
	}

	return Outcome{
		FinalState:    Success,
		HTTPMajor:     status.Major,
		HTTPMinor:     status.Minor,
		StatusCode:    status.Code,
		StatusMessage: status.Reason,
		Headers:       c.headers,
		Body:          c.body.Bytes(),
		Cookies:       c.target.Cookies,
		History:       c.target.History,
		RedirectCount: c.redirected,
		FinalTarget:   c.target,
		Stream:        c.strm,
		KeepAlive:     c.target.KeepAlive && !c.headerSaysClose(),
	}
}

func (c *Connection) headerSaysClose() bool {
	return strings.EqualFold(c.headerValue("Connection"), "close")
}

// terminalRequest captures where the current target actually landed, for
// History.SetTerminal to back-fill onto every hop of a completed chain.
func (c *Connection) terminalRequest() redirect.TerminalRequest {
	path, query, _ := strings.Cut(c.target.URI, "?")

	return redirect.TerminalRequest{
		Scheme:       c.target.Scheme,
		Host:         c.target.Host,
		Port:         c.target.Port,
		Path:         path,
		Query:        query,
		Auth:         requestHeaderValue(c.target.Headers, "Authorization"),
		CookieHeader: requestHeaderValue(c.target.Headers, "Cookie"),
	}
}

// requestHeaderValue looks up name among a target's outgoing request
// headers, as opposed to headerValue which reads the response's.
func requestHeaderValue(fields []HeaderField, name string) string {
	for _, h := range fields {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}

	return ""
}

func (c *Connection) errorOutcome(state State, err error) Outcome {
	c.setState(state)

	if c.strm != nil {
		_ = c.strm.Close()
	}

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	return Outcome{
		FinalState:  state,
		ErrMessage:  msg,
		Cookies:     c.target.Cookies,
		History:     c.target.History,
		FinalTarget: c.target,
	}
}

func (c *Connection) timeoutOutcome() Outcome {
	c.setState(Timeout)

	if c.strm != nil {
		_ = c.strm.Close()
	}

	return Outcome{
		FinalState:  Timeout,
		ErrMessage:  fmt.Sprintf("operation timed out after %s", c.target.Timeout),
		Cookies:     c.target.Cookies,
		History:     c.target.History,
		FinalTarget: c.target,
	}
}
