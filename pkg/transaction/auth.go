package transaction

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/tombee/httpjob/pkg/httpjob"
)

// parseChallenge reads the first challenge of a 401 or 407 response.
func parseChallenge(resp *http.Response, challenger string) *httpjob.AuthChallenge {
	var header string
	isProxy := false
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		header = "WWW-Authenticate"
	case http.StatusProxyAuthRequired:
		header = "Proxy-Authenticate"
		isProxy = true
	default:
		return nil
	}

	values := resp.Header.Values(header)
	if len(values) == 0 {
		return nil
	}

	scheme, params, _ := strings.Cut(strings.TrimSpace(values[0]), " ")
	return &httpjob.AuthChallenge{
		IsProxy:    isProxy,
		Challenger: challenger,
		Scheme:     strings.ToLower(scheme),
		Realm:      authParam(params, "realm"),
	}
}

// authParam returns one auth-param of a challenge, unquoted.
func authParam(params, name string) string {
	for _, p := range splitParams(params) {
		k, v, ok := strings.Cut(p, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), name) {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
		}
		return v
	}
	return ""
}

// splitParams splits on commas outside quoted strings.
func splitParams(s string) []string {
	var (
		out     []string
		start   int
		inQuote bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// authorizationHeader returns the header that answers challenge.
func authorizationHeader(challenge *httpjob.AuthChallenge, creds httpjob.AuthCredentials) (name, value string) {
	name = "Authorization"
	if challenge != nil && challenge.IsProxy {
		name = "Proxy-Authorization"
	}
	token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
	return name, "Basic " + token
}
