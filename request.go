package crequests

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/redirect"
)

// Method is an HTTP request method.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// Headers is a multi-map keyed by lower-cased header name, the same shape
// github.com/indigo-web/indigo's client.Query uses for its own query
// parameters (client/query.go). Values under one name keep their insertion
// order; the order of distinct names is not preserved.
type Headers map[string][]string

func NewHeaders() Headers {
	return make(Headers)
}

func (h Headers) Add(key, value string) {
	h[canonicalHeader(key)] = append(h[canonicalHeader(key)], value)
}

func (h Headers) Set(key, value string) {
	h[canonicalHeader(key)] = []string{value}
}

func (h Headers) Get(key string) string {
	values := h[canonicalHeader(key)]
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

func (h Headers) Has(key string) bool {
	_, ok := h[canonicalHeader(key)]
	return ok
}

func canonicalHeader(key string) string {
	return strings.ToLower(key)
}

// TLSOptions carries the client-side TLS configuration: verify mode, CA
// overrides and an optional client certificate.
type TLSOptions struct {
	AlwaysVerifyPeer bool
	VerifyPath       string `validate:"omitempty,dirpath"`
	VerifyFilename   string
	CertificateFile  string
	PrivateKeyFile   string
}

// OnBodyChunk is invoked as body bytes arrive when set; the response's raw
// body then stays empty. Each data call passes a chunk and a nil error.
// Once a response body has been read in full, one more call passes a nil
// chunk and a nil error to mark end-of-stream (this happens for the body of
// every followed redirect as well). When reading a body fails, no
// end-of-stream call is made.
type OnBodyChunk func(chunk []byte, err error)

// OnFinal is invoked once with the completed response, by the session after
// the connection finishes and before the Future is fulfilled.
type OnFinal func(*Response)

// Request is the input contract the connection state machine consumes.
// Once passed to Session.Send it is treated as immutable by the core;
// redirect chaining clones and rewrites its own copy.
type Request struct {
	Scheme string `validate:"required,oneof=http https"`
	Host   string `validate:"required,hostname_rfc1123|ip"`
	Port   int    `validate:"omitempty,min=1,max=65535"`
	Path   string
	Query  url.Values

	Method  Method `validate:"required"`
	Headers Headers
	Body    []byte

	Timeout        time.Duration `validate:"min=0"`
	StoreTimeout   time.Duration `validate:"min=0"`
	Redirect       bool
	RedirectLimit  int `validate:"min=0"`
	KeepAlive      bool
	CacheRedirects bool
	ThrowOnError   bool
	Gzip           bool

	Auth    Auth
	Cookies *cookie.Jar

	OnBodyChunk OnBodyChunk
	OnFinal     OnFinal

	TLS TLSOptions
}

// NewRequest returns a Request with the defaults every crequests session
// starts a request from before options are applied.
func NewRequest() *Request {
	return &Request{
		Scheme:        "http",
		Method:        MethodGet,
		Headers:       NewHeaders(),
		Query:         url.Values{},
		Timeout:       30 * time.Second,
		StoreTimeout:  60 * time.Second,
		Redirect:      true,
		RedirectLimit: 10,
		KeepAlive:     true,
		Cookies:       cookie.NewJar(),
	}
}

// WithJSON marshals v with jsoniter and installs it as the request body,
// setting Content-Type accordingly. This is the one JSON convenience the
// core exposes; general form encoding stays out of scope.
func (r *Request) WithJSON(v any) error {
	body, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}

	r.Body = body
	r.Headers.Set("Content-Type", "application/json")

	return nil
}

func (r *Request) port() int {
	if r.Port != 0 {
		return r.Port
	}

	if r.Scheme == "https" {
		return 443
	}

	return 80
}

// prepare finalizes headers derived from other fields: Host, Content-Length,
// Authorization and Cookie. It is idempotent and safe to call again after a
// redirect rewrites the URI.
func (r *Request) prepare() {
	if r.Headers == nil {
		r.Headers = NewHeaders()
	}

	host := r.Host
	if (r.Scheme == "http" && r.port() != 80) || (r.Scheme == "https" && r.port() != 443) {
		host = fmt.Sprintf("%s:%d", r.Host, r.port())
	}
	r.Headers.Set("Host", host)

	if len(r.Body) > 0 {
		r.Headers.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}

	if !r.Auth.IsZero() {
		r.Headers.Set("Authorization", "Basic "+basicAuthToken(r.Auth))
	}

	if r.Cookies != nil {
		if cookieHeader := serializeCookieHeader(r.Cookies); cookieHeader != "" {
			r.Headers.Set("Cookie", cookieHeader)
		}
	}
}

func serializeCookieHeader(jar *cookie.Jar) string {
	var b strings.Builder

	for i, c := range jar.All() {
		if i > 0 {
			b.WriteString("; ")
		}

		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}

	return b.String()
}

// target returns the request-target used on the request line: path plus an
// encoded query string.
func (r *Request) target() string {
	path := r.Path
	if path == "" {
		path = "/"
	}

	if len(r.Query) == 0 {
		return path
	}

	return path + "?" + r.Query.Encode()
}

func (r *Request) fingerprint() redirect.Fingerprint {
	return redirect.Fingerprint{
		Scheme: r.Scheme,
		Host:   r.Host,
		Port:   r.port(),
		Path:   r.Path,
		Query:  r.Query.Encode(),
		Method: string(r.Method),
	}
}

func (r *Request) clone() *Request {
	clone := *r
	clone.Headers = make(Headers, len(r.Headers))

	for k, v := range r.Headers {
		clone.Headers[k] = append([]string(nil), v...)
	}

	clone.Query = url.Values{}
	for k, v := range r.Query {
		clone.Query[k] = append([]string(nil), v...)
	}

	if r.Cookies != nil {
		clone.Cookies = r.Cookies.Clone()
	}

	return &clone
}
