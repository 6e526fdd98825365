package workspace

import (
	"net/url"
	"strings"
)

// injectUserinfo sets user:token@ on rawURL for the duration of a single
// clone. Returns rawURL unchanged if it doesn't parse as an absolute URL
// (e.g. an scp-like git@host:path remote, which carries its own auth).
func injectUserinfo(rawURL, user, token string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL
	}
	u.User = url.UserPassword(user, token)
	return u.String()
}

// isPermissionError reports whether a clone failure looks like an
// authentication/authorization failure rather than a transient network
// error, per spec.md §4.3's "permission errors are fatal" edge case.
func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"permission denied",
		"authentication failed",
		"could not read username",
		"403",
		"401",
		"access denied",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
