package crequests

import (
	"github.com/idfumg/crequests/cookie"
	"github.com/idfumg/crequests/redirect"
)

// Response is the mutable output of one connection attempt: it owns a
// clone of the request that produced it, and accumulates status, headers,
// body and cookies as the state machine progresses.
type Response struct {
	Request *Request

	HTTPMajor, HTTPMinor int
	StatusCode           int
	StatusMessage        string
	Headers              Headers
	Raw                  []byte

	Cookies *cookie.Jar

	History       *redirect.History
	RedirectCount int

	Err *Error
}

func newResponse(req *Request) *Response {
	return &Response{
		Request: req,
		Headers: NewHeaders(),
		Cookies: cookie.NewJar(),
		History: redirect.New(),
	}
}

// IsRedirect reports whether the status code is one this library follows
// (301, 302, 303).
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case 301, 302, 303:
		return true
	default:
		return false
	}
}
