package crequests

import (
	"fmt"
	"strings"
)

// Auth is HTTP Basic credentials. The wire format is "user:password";
// splitting happens on the first colon only, so the password may itself
// contain colons. No colons are permitted inside the user component.
type Auth struct {
	User     string
	Password string
}

// ParseAuth parses the literal "user:password" format used by set_option's
// auth string.
func ParseAuth(s string) (Auth, error) {
	idx := strings.IndexByte(s, ':')
	if idx == -1 {
		return Auth{}, fmt.Errorf("crequests: malformed auth string: %q", s)
	}

	return Auth{User: s[:idx], Password: s[idx+1:]}, nil
}

// String reserializes the credentials back into "user:password" form.
func (a Auth) String() string {
	return a.User + ":" + a.Password
}

func (a Auth) IsZero() bool {
	return a.User == "" && a.Password == ""
}
