package utils

import "net/url"

func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}

// RedactURL masks the password of a URL with userinfo, e.g. an https remote
// carrying an access token. Anything that does not parse is returned as is.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	if password, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), MaskSecret(password))
		return u.String()
	}
	return rawURL
}
