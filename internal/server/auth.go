package server

import (
	"errors"
	"net/http"
	"strings"
)

var errNoSession = errors.New("no valid session")

// sessionToken reads the guest token from the Authorization header, or
// from ?token= for EventSource and WebSocket clients that cannot set
// headers.
func sessionToken(r *http.Request) string {
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found && token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
