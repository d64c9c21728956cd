package crequests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_Defaults(t *testing.T) {
	r := NewRequest()

	assert.Equal(t, "http", r.Scheme)
	assert.Equal(t, MethodGet, r.Method)
	assert.True(t, r.Redirect)
	assert.Equal(t, 10, r.RedirectLimit)
	assert.True(t, r.KeepAlive)
	assert.NotNil(t, r.Cookies)
}

func TestRequest_PortDefaultsByScheme(t *testing.T) {
	r := NewRequest()
	r.Scheme = "https"
	assert.Equal(t, 443, r.port())

	r.Scheme = "http"
	assert.Equal(t, 80, r.port())

	r.Port = 8443
	assert.Equal(t, 8443, r.port())
}

func TestRequest_PrepareSetsHostContentLengthAuthAndCookie(t *testing.T) {
	r := NewRequest()
	r.Host = "example.test"
	r.Body = []byte("payload")
	r.Auth = Auth{User: "u", Password: "p"}
	r.Cookies.Add(mustCookie("session", "abc"))

	r.prepare()

	assert.Equal(t, "example.test", r.Headers.Get("Host"))
	assert.Equal(t, "7", r.Headers.Get("Content-Length"))
	assert.Equal(t, "Basic "+basicAuthToken(r.Auth), r.Headers.Get("Authorization"))
	assert.Equal(t, "session=abc", r.Headers.Get("Cookie"))
}

func TestRequest_PrepareIncludesNonDefaultPortInHost(t *testing.T) {
	r := NewRequest()
	r.Host = "example.test"
	r.Port = 8080

	r.prepare()

	assert.Equal(t, "example.test:8080", r.Headers.Get("Host"))
}

func TestRequest_PrepareIsIdempotent(t *testing.T) {
	r := NewRequest()
	r.Host = "example.test"
	r.Body = []byte("x")

	r.prepare()
	first := r.Headers.Get("Content-Length")
	r.prepare()
	second := r.Headers.Get("Content-Length")

	assert.Equal(t, first, second)
}

func TestRequest_TargetJoinsPathAndQuery(t *testing.T) {
	r := NewRequest()
	assert.Equal(t, "/", r.target())

	r.Path = "/search"
	r.Query.Set("q", "go")
	assert.Equal(t, "/search?q=go", r.target())
}

func TestRequest_WithJSONSetsContentType(t *testing.T) {
	r := NewRequest()
	require.NoError(t, r.WithJSON(map[string]int{"a": 1}))

	assert.Equal(t, "application/json", r.Headers.Get("Content-Type"))
	assert.NotEmpty(t, r.Body)
}

func TestRequest_CloneIsIndependent(t *testing.T) {
	r := NewRequest()
	r.Host = "example.test"
	r.Headers.Add("X-Test", "1")
	r.Query.Set("a", "1")
	r.Cookies.Add(mustCookie("k", "v"))

	clone := r.clone()
	clone.Headers.Add("X-Test", "2")
	clone.Query.Set("a", "2")

	assert.Equal(t, []string{"1"}, r.Headers["x-test"])
	assert.Equal(t, "1", r.Query.Get("a"))
}

func TestRequest_FingerprintReflectsRoute(t *testing.T) {
	r := NewRequest()
	r.Scheme = "https"
	r.Host = "example.test"
	r.Path = "/a"
	r.Method = MethodPost

	fp := r.fingerprint()

	assert.Equal(t, "https", fp.Scheme)
	assert.Equal(t, "example.test", fp.Host)
	assert.Equal(t, 443, fp.Port)
	assert.Equal(t, "/a", fp.Path)
	assert.Equal(t, "POST", fp.Method)
}

func TestHeaders_CanonicalizesCase(t *testing.T) {
	h := NewHeaders()
	h.Set("Content-Type", "text/plain")

	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.True(t, h.Has("CONTENT-TYPE"))
}
