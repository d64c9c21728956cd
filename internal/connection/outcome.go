package connection

import (
	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/redirect"
	"github.com/idfumg/crequests/internal/stream"
)

// Outcome is everything a connection attempt hands back to the session:
// the terminal state it reached and, on Success, the assembled response
// fields. Session.go maps FinalState onto the public Kind enum with an
// explicit per-state switch.
type Outcome struct {
	FinalState State
	ErrMessage string

	HTTPMajor, HTTPMinor int
	StatusCode           int
	StatusMessage        string
	Headers              []HeaderField
	Body                 []byte

	Cookies       *cookie.Jar
	History       *redirect.History
	RedirectCount int

	// FinalTarget is the (possibly redirected) request that actually
	// produced this outcome, so the session can report it on the response.
	FinalTarget *Target

	// Stream and KeepAlive let the session decide whether to return the
	// connection to its per-origin pool for reuse.
	Stream    stream.Stream
	KeepAlive bool
}
