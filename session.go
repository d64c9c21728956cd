package crequests

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/internal/connection"
	"github.com/idfumg/crequests/internal/logx"
	"github.com/idfumg/crequests/internal/metrics"
	"github.com/idfumg/crequests/internal/runtime"
	"github.com/idfumg/crequests/redirect"
)

var validate = validator.New()

// Session is the public façade: it accumulates cross-request state
// (cookies, a keep-alive pool, a redirect-cache) and constructs one
// connection per Send call. Its id, threaded into every log line the
// session's connections emit, is a github.com/google/uuid value, the
// same identifier scheme sufield-ephemos uses for its own session-scoped
// correlation ids.
type Session struct {
	id string
	rt *runtime.Runtime

	mu            sync.Mutex
	cookies       *cookie.Jar
	redirectCache *redirect.History
	haveLast      bool
}

// SessionOption configures a Session at construction time.
type SessionOption func(*Session)

// WithLogger overrides the session's logger; the default discards output.
func WithLogger(l *logx.Logger) SessionOption {
	return func(s *Session) { s.rt.Logger = l }
}

// WithMetrics installs m as the session's connection-lifecycle metrics.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.rt.Metrics = m }
}

// NewSession returns a ready-to-use Session backed by a fresh Runtime.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:            uuid.NewString(),
		rt:            runtime.New(),
		cookies:       cookie.NewJar(),
		redirectCache: redirect.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Close releases every pooled keep-alive connection.
func (s *Session) Close() {
	s.rt.CloseAll()
}

// Option mutates a Request being assembled by one of the verb methods.
type Option func(*Request)

func WithURL(rawURL string) Option {
	return func(r *Request) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return
		}

		r.Scheme = u.Scheme
		r.Host = u.Hostname()
		if p := u.Port(); p != "" {
			fmt.Sscanf(p, "%d", &r.Port)
		}
		r.Path = u.Path
		r.Query = u.Query()
	}
}

func WithHeader(name, value string) Option {
	return func(r *Request) { r.Headers.Add(name, value) }
}

func WithQuery(key, value string) Option {
	return func(r *Request) { r.Query.Add(key, value) }
}

func WithBody(body []byte) Option {
	return func(r *Request) { r.Body = body }
}

func WithJSONBody(v any) Option {
	return func(r *Request) { _ = r.WithJSON(v) }
}

func WithAuth(a Auth) Option {
	return func(r *Request) { r.Auth = a }
}

func WithTimeoutSeconds(seconds int) Option {
	return func(r *Request) { r.Timeout = secondsToDuration(seconds) }
}

func WithStoreTimeoutSeconds(seconds int) Option {
	return func(r *Request) { r.StoreTimeout = secondsToDuration(seconds) }
}

func WithRedirect(enabled bool) Option {
	return func(r *Request) { r.Redirect = enabled }
}

func WithRedirectLimit(n int) Option {
	return func(r *Request) { r.RedirectLimit = n }
}

func WithKeepAlive(enabled bool) Option {
	return func(r *Request) { r.KeepAlive = enabled }
}

func WithCacheRedirects(enabled bool) Option {
	return func(r *Request) { r.CacheRedirects = enabled }
}

func WithThrowOnError(enabled bool) Option {
	return func(r *Request) { r.ThrowOnError = enabled }
}

func WithGzip(enabled bool) Option {
	return func(r *Request) { r.Gzip = enabled }
}

func WithBodyCallback(cb OnBodyChunk) Option {
	return func(r *Request) { r.OnBodyChunk = cb }
}

func WithFinalCallback(cb OnFinal) Option {
	return func(r *Request) { r.OnFinal = cb }
}

func WithAlwaysVerifyPeer(enabled bool) Option {
	return func(r *Request) { r.TLS.AlwaysVerifyPeer = enabled }
}

func WithVerifyPath(path string) Option {
	return func(r *Request) { r.TLS.VerifyPath = path }
}

func WithVerifyFilename(name string) Option {
	return func(r *Request) { r.TLS.VerifyFilename = name }
}

func WithClientCertificate(certFile, keyFile string) Option {
	return func(r *Request) {
		r.TLS.CertificateFile = certFile
		r.TLS.PrivateKeyFile = keyFile
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Get, Post, Put, Patch, Delete and Head are the synchronous verb
// shorthands; each blocks on the resulting Future.
func (s *Session) Get(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodGet, url, opts...)
}

func (s *Session) Post(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodPost, url, opts...)
}

func (s *Session) Put(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodPut, url, opts...)
}

func (s *Session) Patch(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodPatch, url, opts...)
}

func (s *Session) Delete(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodDelete, url, opts...)
}

func (s *Session) Head(url string, opts ...Option) (*Response, error) {
	return s.sendMethod(MethodHead, url, opts...)
}

func (s *Session) sendMethod(method Method, rawURL string, opts ...Option) (*Response, error) {
	req := NewRequest()
	req.Method = method
	WithURL(rawURL)(req)

	for _, opt := range opts {
		opt(req)
	}

	return s.Send(req)
}

// Send validates and dispatches req synchronously, blocking on the
// resulting Future.
func (s *Session) Send(req *Request) (*Response, error) {
	f := s.SendAsync(req)
	return f.Get()
}

// SendAsync is the async counterpart every verb's blocking form is built
// on: it validates req, applies the session reuse selector, spawns one
// connection goroutine, and returns immediately with its Future.
func (s *Session) SendAsync(req *Request) *Future {
	future := newFuture()

	if err := validate.Struct(req); err != nil {
		future.fulfill(nil, err)
		return future
	}

	s.applyReuseSelector(req)
	req.prepare()

	target := s.buildTarget(req)

	go s.run(req, target, future)

	return future
}

func (s *Session) applyReuseSelector(req *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := req.fingerprint()

	if req.CacheRedirects && s.haveLast {
		if terminal, ok := s.redirectCache.Find(fp); ok {
			req.Scheme = terminal.Scheme
			req.Host = terminal.Host
			req.Port = terminal.Port
			req.Path = terminal.Path

			if q, err := url.ParseQuery(terminal.Query); err == nil {
				req.Query = q
			}
		}
	}

	req.Cookies.MergeMatching(s.cookies, req.Host, req.Path)
}

func (s *Session) buildTarget(req *Request) *connection.Target {
	origin := runtime.Origin{Scheme: req.Scheme, Host: req.Host, Port: req.port()}

	headers := make([]connection.HeaderField, 0, len(req.Headers))
	for name, values := range req.Headers {
		for _, v := range values {
			headers = append(headers, connection.HeaderField{Name: name, Value: v})
		}
	}

	t := &connection.Target{
		Scheme:         req.Scheme,
		Host:           req.Host,
		Port:           req.port(),
		Method:         string(req.Method),
		URI:            req.target(),
		Headers:        headers,
		Body:           req.Body,
		ServerName:     req.Host,
		Timeout:        req.Timeout,
		StoreTimeout:   req.StoreTimeout,
		Redirect:       req.Redirect,
		RedirectLimit:  req.RedirectLimit,
		KeepAlive:      req.KeepAlive,
		CacheRedirects: req.CacheRedirects,
		Cookies:        req.Cookies,
		History:        redirect.New(),
		Fingerprint:    req.fingerprint(),
		OnBodyChunk:    req.OnBodyChunk,
		Reused:         s.rt.TakeIdle(origin),
	}

	if req.Scheme == "https" {
		t.TLSConfig = buildTLSConfig(req.TLS)
	}

	return t
}

func buildTLSConfig(opts TLSOptions) *tls.Config {
	cfg := &tls.Config{InsecureSkipVerify: !opts.AlwaysVerifyPeer}

	if opts.VerifyPath != "" && opts.VerifyFilename != "" {
		if pem, err := os.ReadFile(filepath.Join(opts.VerifyPath, opts.VerifyFilename)); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				cfg.RootCAs = pool
			}
		}
	}

	if opts.CertificateFile != "" && opts.PrivateKeyFile != "" {
		if cert, err := tls.LoadX509KeyPair(opts.CertificateFile, opts.PrivateKeyFile); err == nil {
			cfg.Certificates = []tls.Certificate{cert}
		}
	}

	return cfg
}

func (s *Session) run(req *Request, target *connection.Target, future *Future) {
	connID := s.id[:8] + "-" + s.rt.NewConnID()

	conn := connection.New(connection.Deps{
		Clock:   s.rt.Clock,
		Logger:  s.rt.Logger,
		Metrics: s.rt.Metrics,
		ConnID:  connID,
	}, target)

	outcome := conn.Run(context.Background())

	resp := s.outcomeToResponse(req, outcome)

	s.rememberForReuse(resp, outcome)

	if req.OnFinal != nil {
		req.OnFinal(resp)
	}

	if req.ThrowOnError && !resp.Err.IsSuccess() {
		future.fulfill(resp, resp.Err)
		return
	}

	future.fulfill(resp, nil)
}

func (s *Session) outcomeToResponse(req *Request, outcome connection.Outcome) *Response {
	finalReq := req
	if outcome.FinalTarget != nil {
		finalReq = req.clone()
		finalReq.Scheme = outcome.FinalTarget.Scheme
		finalReq.Host = outcome.FinalTarget.Host
		finalReq.Port = outcome.FinalTarget.Port
		finalReq.Path = outcome.FinalTarget.URI
		finalReq.Method = Method(outcome.FinalTarget.Method)
	}

	resp := newResponse(finalReq)
	resp.HTTPMajor = outcome.HTTPMajor
	resp.HTTPMinor = outcome.HTTPMinor
	resp.StatusCode = outcome.StatusCode
	resp.StatusMessage = outcome.StatusMessage
	resp.Raw = outcome.Body
	resp.RedirectCount = outcome.RedirectCount

	if outcome.Cookies != nil {
		resp.Cookies = outcome.Cookies
	}

	if outcome.History != nil {
		resp.History = outcome.History
	}

	for _, h := range outcome.Headers {
		resp.Headers.Add(h.Name, h.Value)
	}

	resp.Err = &Error{Kind: kindFromState(outcome.FinalState), Message: errorMessage(outcome)}

	return resp
}

func errorMessage(outcome connection.Outcome) string {
	if outcome.FinalState == connection.Success {
		return "success"
	}

	return outcome.ErrMessage
}

// kindFromState maps a connection.State onto the public Kind enum, one
// case per terminal state; any other state maps to KindWriteError.
func kindFromState(s connection.State) Kind {
	switch s {
	case connection.Success:
		return KindSuccess
	case connection.ResolveError:
		return KindResolveError
	case connection.ConnectError:
		return KindConnectError
	case connection.HandshakeError:
		return KindHandshakeError
	case connection.WriteError:
		return KindWriteError
	case connection.ReadStatusError:
		return KindReadStatusError
	case connection.ReadStatusDataError:
		return KindReadStatusDataError
	case connection.ReadHeadersError:
		return KindReadHeadersError
	case connection.ReadContentLengthError:
		return KindReadContentLengthError
	case connection.ReadChunkHeaderError:
		return KindReadChunkHeaderError
	case connection.ReadChunkDataError:
		return KindReadChunkDataError
	case connection.ReadUntilEOFError:
		return KindReadUntilEOFError
	case connection.RedirectError:
		return KindRedirectError
	case connection.RedirectExhausted:
		return KindRedirectExhausted
	case connection.Timeout:
		return KindTimeout
	default:
		return KindWriteError
	}
}

func (s *Session) rememberForReuse(resp *Response, outcome connection.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cookies.Merge(resp.Cookies)

	if outcome.FinalTarget == nil {
		return
	}

	s.haveLast = true

	if outcome.History != nil && outcome.History.Len() > 0 {
		s.redirectCache = outcome.History
	}

	if outcome.KeepAlive && outcome.Stream != nil {
		origin := runtime.Origin{
			Scheme: outcome.FinalTarget.Scheme,
			Host:   outcome.FinalTarget.Host,
			Port:   outcome.FinalTarget.Port,
		}

		s.rt.Park(origin, outcome.Stream)

		if outcome.FinalTarget.StoreTimeout > 0 {
			s.rt.Clock.AfterFunc(outcome.FinalTarget.StoreTimeout, func() {
				_ = outcome.Stream.Close()
			})
		}
	} else if outcome.Stream != nil {
		_ = outcome.Stream.Close()
	}
}
