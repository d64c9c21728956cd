// Package cookie holds the Cookie value type and the Set-Cookie parser used
// by the connection state machine when it observes a Set-Cookie response
// header. Shaped after github.com/indigo-web/indigo's http/cookie package,
// generalized from a request-side Cookie-header parser into a response-side
// Set-Cookie parser plus the attribute set a client needs to track.
package cookie

import (
	"strconv"
	"strings"
	"time"
)

// Cookie is a single Set-Cookie entry, stamped with the origin host/path of
// the response that produced it. No cookie observed by this package ever
// carries an origin different from the response it was collected from.
type Cookie struct {
	Name, Value string
	OriginHost  string
	OriginPath  string

	Expires  time.Time
	MaxAge   int
	Domain   string
	Path     string
	Secure   bool
	HttpOnly bool
	SameSite string
}

// Parse decodes a single Set-Cookie header value. Only the name=value pair
// is mandatory; unrecognized attributes are ignored rather than rejected,
// matching how real user agents tolerate origin server quirks.
func Parse(raw string) Cookie {
	parts := strings.Split(raw, ";")
	c := Cookie{}

	if len(parts) > 0 {
		name, value, _ := strings.Cut(strings.TrimSpace(parts[0]), "=")
		c.Name, c.Value = strings.TrimSpace(name), strings.TrimSpace(value)
	}

	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		key, value, hasValue := strings.Cut(attr, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "expires":
			if hasValue {
				if t, err := time.Parse(time.RFC1123, value); err == nil {
					c.Expires = t
				}
			}
		case "max-age":
			if hasValue {
				if n, err := strconv.Atoi(value); err == nil {
					c.MaxAge = n
				}
			}
		case "domain":
			c.Domain = value
		case "path":
			c.Path = value
		case "samesite":
			c.SameSite = value
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		}
	}

	return c
}

// StampOrigin records which response produced this cookie. Called once, at
// collection time, by the connection state machine.
func (c Cookie) StampOrigin(host, path string) Cookie {
	c.OriginHost = host
	c.OriginPath = path

	return c
}

// MatchesRequest reports whether c should be sent on a request to host/path,
// following the same domain/path scoping real user agents apply: a cookie
// without an explicit Domain attribute only matches the exact host it was
// collected from, and a cookie without an explicit Path only matches
// requests at or below the path it was collected from.
func (c Cookie) MatchesRequest(host, path string) bool {
	if c.Domain == "" {
		if c.OriginHost == "" || !strings.EqualFold(host, c.OriginHost) {
			return false
		}
	} else if !hostMatchesDomain(host, c.Domain) {
		return false
	}

	cookiePath := c.Path
	if cookiePath == "" {
		cookiePath = c.OriginPath
	}

	return pathMatches(path, cookiePath)
}

// hostMatchesDomain implements the usual cookie-domain match: an exact host
// match, or host being a subdomain of domain. A leading dot on domain (an
// older but still common way of writing it) is treated the same as none.
func hostMatchesDomain(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))

	if domain == "" {
		return false
	}

	return host == domain || strings.HasSuffix(host, "."+domain)
}

// pathMatches reports whether reqPath falls under cookiePath, the same
// prefix rule browsers apply for the Path attribute.
func pathMatches(reqPath, cookiePath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}

	if reqPath == cookiePath {
		return true
	}

	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}

	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}
