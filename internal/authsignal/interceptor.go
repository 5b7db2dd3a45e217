package authsignal

import (
	"io"
	"net/http"
	"regexp"
)

var (
	loginURLPattern  = regexp.MustCompile(`(?i)(login|signin|auth|authenticate|session|oauth|callback)`)
	loginBodyPattern = regexp.MustCompile(`(?i)(email|username|password|login|signin)`)
)

// Interceptor is an http.RoundTripper middleware: the explicit registration
// point for observing outgoing network calls, in place of patching built-ins.
// It reports requests that look login-related and never alters them.
type Interceptor struct {
	// Base performs the actual round trip. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper
	// OnLoginRequest is invoked with the request URL after a
	// login-looking call completes. Must be non-blocking.
	OnLoginRequest func(url string)
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	base := i.Base
	if base == nil {
		base = http.DefaultTransport
	}

	loginLike := loginURLPattern.MatchString(req.URL.String()) || bodyLooksLikeLogin(req)

	resp, err := base.RoundTrip(req)
	if err == nil && loginLike && i.OnLoginRequest != nil {
		i.OnLoginRequest(req.URL.String())
	}
	return resp, err
}

// bodyLooksLikeLogin inspects a replayable request body for credential-like
// field names. Requests without GetBody are judged on URL alone.
func bodyLooksLikeLogin(req *http.Request) bool {
	if req.GetBody == nil {
		return false
	}
	body, err := req.GetBody()
	if err != nil {
		return false
	}
	defer body.Close()
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return false
	}
	return loginBodyPattern.Match(raw)
}
