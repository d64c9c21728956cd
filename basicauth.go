package crequests

import "encoding/base64"

func basicAuthToken(a Auth) string {
	return base64.StdEncoding.EncodeToString([]byte(a.String()))
}
