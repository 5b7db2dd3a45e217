// Package httpserver builds the *http.Server shared by the coordinator API
// and the observer's loopback control endpoint.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with conservative timeouts. The write window leaves
// room for the inline consent reply, which waits up to five seconds on the
// dispatcher before answering.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
