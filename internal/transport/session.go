// Package transport is the cookie-scoped HTTP client used for one
// authentication attempt. Each Session owns its cookie jar, so concurrent
// attempts for different identities never share cookie state.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	maxBodyBytes    = 1 << 20
	formContentType = "application/x-www-form-urlencoded"
)

// DefaultTransport returns a pooled transport without the global state
// http.DefaultTransport carries.
func DefaultTransport() http.RoundTripper {
	return cleanhttp.DefaultPooledTransport()
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	cookies    []*http.Cookie
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Cookie returns the value of a Set-Cookie named name on this response.
func (r *Response) Cookie(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, c := range r.cookies {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// Session carries cookie state across the requests of one attempt. It is not
// meant to be shared between attempts.
type Session struct {
	client *http.Client
	jar    http.CookieJar
}

// NewSession returns a Session over rt. A nil rt selects DefaultTransport.
func NewSession(rt http.RoundTripper, timeout time.Duration) (*Session, error) {
	if rt == nil {
		rt = DefaultTransport()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: cookie jar: %w", err)
	}
	return &Session{
		client: &http.Client{Transport: rt, Timeout: timeout, Jar: jar},
		jar:    jar,
	}, nil
}

// PostForm posts form to rawURL with the given headers. A non-2xx status is
// not an error; transport failures are.
func (s *Session) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", formContentType)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: post %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		cookies:    resp.Cookies(),
	}, nil
}

// Cookie returns the jar's value for name as it would be sent to rawURL.
func (s *Session) Cookie(rawURL, name string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}
