package connection

import (
	"crypto/tls"
	"strconv"
	"time"

	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/redirect"
	"github.com/idfumg/crequests/internal/stream"
)

// HeaderField is one ordered request header, matching the ordered-pair
// style github.com/indigo-web/indigo's internal/datastruct.KeyValue uses
// for its own header storage instead of a plain map.
type HeaderField struct {
	Name, Value string
}

// Target is everything one connection attempt needs, translated from the
// public Request at the session boundary so this package stays decoupled
// from the public API package (which in turn depends on this package).
type Target struct {
	Scheme string
	Host   string
	Port   int
	Method string
	// URI is the request-target sent on the request line: path plus any
	// encoded query string.
	URI     string
	Headers []HeaderField
	Body    []byte

	TLSConfig  *tls.Config
	ServerName string

	Timeout        time.Duration
	StoreTimeout   time.Duration
	Redirect       bool
	RedirectLimit  int
	KeepAlive      bool
	CacheRedirects bool

	Cookies     *cookie.Jar
	History     *redirect.History
	Fingerprint redirect.Fingerprint

	OnBodyChunk func(chunk []byte, err error)

	// Reused, when set, is a still-open stream from a previous exchange
	// with the same origin. The connection tries it first and falls back
	// to a fresh connect exactly once if the peer had silently closed it.
	Reused stream.Stream
}

func (t *Target) endpoint() string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}
