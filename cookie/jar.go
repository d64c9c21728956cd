package cookie

import "github.com/indigo-web/iter"

// Jar is an ordered collection of cookies collected from Set-Cookie
// headers over the lifetime of a session. Ordered storage (rather than a
// map) mirrors how github.com/indigo-web/indigo's own header/cookie
// containers are built, and lets Merge apply "first write wins" precedence
// deterministically.
type Jar struct {
	cookies []Cookie
}

func NewJar() *Jar {
	return &Jar{}
}

// Add appends a cookie, as collected from a single Set-Cookie header.
func (j *Jar) Add(c Cookie) {
	j.cookies = append(j.cookies, c)
}

// Get returns the most recently added cookie by name, if any.
func (j *Jar) Get(name string) (Cookie, bool) {
	for i := len(j.cookies) - 1; i >= 0; i-- {
		if j.cookies[i].Name == name {
			return j.cookies[i], true
		}
	}

	return Cookie{}, false
}

// Has reports whether a cookie by that name is present.
func (j *Jar) Has(name string) bool {
	_, ok := j.Get(name)
	return ok
}

// All returns every cookie currently held, in insertion order.
func (j *Jar) All() []Cookie {
	return j.cookies
}

// Iter exposes the jar's cookies as an indigo-web/iter iterator, the same
// abstraction github.com/indigo-web/indigo uses to walk its own ordered
// key-value containers (see internal/datastruct.KeyValue.Iter).
func (j *Jar) Iter() iter.Iterator[Cookie] {
	return iter.Slice(j.cookies)
}

// Merge folds other's cookies into j, without overwriting any cookie
// already present under the same name. Used to accumulate a response's
// freshly collected Set-Cookie entries into the session-wide store, where
// every origin's cookies live side by side; scoping to a particular
// destination happens at send time via MergeMatching instead.
func (j *Jar) Merge(other *Jar) {
	if other == nil {
		return
	}

	it := other.Iter()

	for {
		c, ok := it.Next()
		if !ok {
			break
		}

		if !j.Has(c.Name) {
			j.Add(c)
		}
	}
}

// MergeMatching folds other's cookies into j, skipping any that don't
// apply to host/path (see Cookie.MatchesRequest) and never overwriting a
// cookie already present under the same name. This is what a session uses
// to carry its accumulated cookies onto an outgoing request: the session's
// jar holds cookies from every origin it has talked to, but only the ones
// scoped to this particular destination belong on this request.
func (j *Jar) MergeMatching(other *Jar, host, path string) {
	if other == nil {
		return
	}

	it := other.Iter()

	for {
		c, ok := it.Next()
		if !ok {
			break
		}

		if !c.MatchesRequest(host, path) {
			continue
		}

		if !j.Has(c.Name) {
			j.Add(c)
		}
	}
}

// Clone returns a shallow, independent copy of the jar.
func (j *Jar) Clone() *Jar {
	clone := &Jar{cookies: make([]Cookie, len(j.cookies))}
	copy(clone.cookies, j.cookies)

	return clone
}
