// Package httpserver constructs the gate's HTTP server.
package httpserver

import (
	"net/http"
	"time"
)

// New wraps a handler in an http.Server configured for the approval API.
// ReadHeaderTimeout bounds slow-header clients; everything else inherits
// per-request deadlines from the handlers.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
