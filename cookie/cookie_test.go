package cookie

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse_NameValueOnly(t *testing.T) {
	c := Parse("session=abc123")

	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "abc123", c.Value)
}

func TestParse_AllAttributes(t *testing.T) {
	c := Parse("session=abc123; Domain=example.com; Path=/app; Max-Age=3600; Secure; HttpOnly; SameSite=Strict")

	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, "/app", c.Path)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.Secure)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "Strict", c.SameSite)
}

func TestParse_ExpiresAttribute(t *testing.T) {
	c := Parse("id=1; Expires=Wed, 09 Jun 2027 10:18:14 GMT")

	assert.Equal(t, 2027, c.Expires.Year())
	assert.Equal(t, time.June, c.Expires.Month())
}

func TestParse_UnknownAttributesAreIgnored(t *testing.T) {
	c := Parse("id=1; Unknown-Thing=whatever")
	assert.Equal(t, "id", c.Name)
	assert.Equal(t, "1", c.Value)
}

func TestCookie_StampOrigin(t *testing.T) {
	c := Parse("id=1").StampOrigin("example.test", "/a")

	assert.Equal(t, "example.test", c.OriginHost)
	assert.Equal(t, "/a", c.OriginPath)
}

func TestJar_AddGetHas(t *testing.T) {
	j := NewJar()
	j.Add(Parse("a=1"))
	j.Add(Parse("b=2"))

	assert.True(t, j.Has("a"))
	assert.False(t, j.Has("z"))

	got, ok := j.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", got.Value)
}

func TestJar_GetReturnsMostRecentOnDuplicateName(t *testing.T) {
	j := NewJar()
	j.Add(Parse("a=1"))
	j.Add(Parse("a=2"))

	got, ok := j.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "2", got.Value)
}

func TestJar_MergeDoesNotOverwriteExisting(t *testing.T) {
	dst := NewJar()
	dst.Add(Parse("a=new"))

	src := NewJar()
	src.Add(Parse("a=old"))
	src.Add(Parse("b=fromsrc"))

	dst.Merge(src)

	a, _ := dst.Get("a")
	b, _ := dst.Get("b")
	assert.Equal(t, "new", a.Value)
	assert.Equal(t, "fromsrc", b.Value)
}

func TestJar_MergeNilIsNoop(t *testing.T) {
	dst := NewJar()
	dst.Add(Parse("a=1"))

	dst.Merge(nil)

	assert.Equal(t, 1, len(dst.All()))
}

func TestCookie_MatchesRequest_ExactOriginHost(t *testing.T) {
	c := Parse("id=1").StampOrigin("a.example.test", "/")

	assert.True(t, c.MatchesRequest("a.example.test", "/"))
	assert.False(t, c.MatchesRequest("b.example.test", "/"))
}

func TestCookie_MatchesRequest_DomainAttributeCoversSubdomains(t *testing.T) {
	c := Parse("id=1; Domain=example.test")

	assert.True(t, c.MatchesRequest("example.test", "/"))
	assert.True(t, c.MatchesRequest("sub.example.test", "/"))
	assert.False(t, c.MatchesRequest("otherexample.test", "/"))
}

func TestCookie_MatchesRequest_PathScoping(t *testing.T) {
	c := Parse("id=1; Path=/app").StampOrigin("example.test", "/app")

	assert.True(t, c.MatchesRequest("example.test", "/app"))
	assert.True(t, c.MatchesRequest("example.test", "/app/settings"))
	assert.False(t, c.MatchesRequest("example.test", "/other"))
}

func TestJar_MergeMatchingOnlyPullsCookiesForTheGivenHost(t *testing.T) {
	dst := NewJar()

	src := NewJar()
	src.Add(Parse("a=1").StampOrigin("a.example.test", "/"))
	src.Add(Parse("b=2").StampOrigin("b.example.test", "/"))

	dst.MergeMatching(src, "a.example.test", "/")

	assert.True(t, dst.Has("a"))
	assert.False(t, dst.Has("b"))
}

func TestJar_MergeMatchingNilIsNoop(t *testing.T) {
	dst := NewJar()
	dst.MergeMatching(nil, "example.test", "/")
	assert.Equal(t, 0, len(dst.All()))
}

func TestJar_CloneIsIndependent(t *testing.T) {
	j := NewJar()
	j.Add(Parse("a=1"))

	clone := j.Clone()
	clone.Add(Parse("b=2"))

	assert.Equal(t, 1, len(j.All()))
	assert.Equal(t, 2, len(clone.All()))
}
