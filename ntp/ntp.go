// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ntp is a client for the Netztransparenz statistics API.
package ntp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/netztransparenz/errkind"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// Credentials supply the bearer token for every request.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	// Invalidate the current token after the server rejected it.
	Invalidate()
}

// Client fetches raw response bodies from the API.
type Client struct {
	http    *http.Client
	creds   Credentials
	limiter *rate.Limiter // nil when unthrottled
}

// NewClient creates a client. A nil http client means http.DefaultClient, and
// a non-positive rps disables client-side throttling.
func NewClient(hc *http.Client, creds Credentials, rps float64) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	c := &Client{http: hc, creds: creds}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// UseClient injects the client into the context.
func UseClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// GetClient extracts the client from the context, if present. Otherwise it
// returns nil.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// errUnauthorized marks a 401 response, which is retried once with a fresh
// token.
var errUnauthorized = errors.Reason("server rejected the access token")

// Get the body at the URL. A 401 invalidates the token and retries once with
// a fresh one. No data (404, 204 or an empty body) is a nil body and no error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	body, err := c.get(ctx, url)
	if err == errUnauthorized {
		logging.Warningf(ctx, "401 from %s, retrying with a fresh token", url)
		c.creds.Invalidate()
		body, err = c.get(ctx, url)
	}
	if err == errUnauthorized {
		return nil, errkind.New(errkind.Authentication, "GET %s: token rejected twice", url)
	}
	return body, err
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errkind.Wrap(errkind.UpstreamFetch, err, "GET %s: throttled", url)
		}
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFetch, err, "GET %s: bad request", url)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/csv, application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFetch, err, "GET %s failed", url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errkind.Wrap(errkind.UpstreamFetch, err, "GET %s: failed to read body", url)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		logging.Debugf(ctx, "GET %s: no data (%s)", url, resp.Status)
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errkind.New(errkind.UpstreamFetch, "GET %s: rate limited (%s)", url, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errkind.New(errkind.UpstreamFetch, "GET %s: %s: %s", url, resp.Status, snippet(body))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	logging.Debugf(ctx, "GET %s: %d bytes", url, len(body))
	return body, nil
}

// snippet of a response body for error messages.
func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return fmt.Sprintf("%s... (%d bytes)", s[:limit], len(s))
	}
	return s
}
