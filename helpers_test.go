package crequests

import "github.com/idfumg/crequests/cookie"

func mustCookie(name, value string) cookie.Cookie {
	return cookie.Parse(name + "=" + value)
}
