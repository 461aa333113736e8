package authsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/internal/utils"
)

// RequestOptions tunes Do.
type RequestOptions struct {
	Header http.Header
	// Data is encoded as the JSON body of POST, PUT and PATCH requests
	Data any
	// Body is sent as is when Data is nil
	Body io.Reader
	// FollowRedirects defaults to true
	FollowRedirects *bool
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// Do sends an authenticated request with the user's bearer token on the shared
// client. The caller owns the response body.
func (o *OAuthSession) Do(ctx context.Context, method, url string, opts RequestOptions) (*http.Response, error) {
	tok, err := o.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, errors.ErrNoToken
	}

	method = strings.ToUpper(method)
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnsupportedMethod, method)
	}

	body := opts.Body
	if isWrite(method) && opts.Data != nil {
		data, err := json.Marshal(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("[OAuthSession Do] encode data: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("[OAuthSession Do] new request: %w", err)
	}
	for k, vals := range opts.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if isWrite(method) {
		req.Header.Set("Content-Type", "application/json")
	}

	client := o.factory.httpClient()
	if !utils.ValueOr(opts.FollowRedirects, true) {
		noFollow := *client
		noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &noFollow
	}

	resp, err := client.Do(req)
	if err != nil {
		o.factory.Metrics.Outbound(method, "error")
		return nil, fmt.Errorf("[OAuthSession Do] %s %s: %w", method, url, err)
	}
	o.factory.Metrics.Outbound(method, fmt.Sprintf("%dxx", resp.StatusCode/100))
	return resp, nil
}

// Get is Do with GET.
func (o *OAuthSession) Get(ctx context.Context, url string) (*http.Response, error) {
	return o.Do(ctx, http.MethodGet, url, RequestOptions{})
}

// Post is Do with POST and data as the JSON body.
func (o *OAuthSession) Post(ctx context.Context, url string, data any) (*http.Response, error) {
	return o.Do(ctx, http.MethodPost, url, RequestOptions{Data: data})
}

// GetJSON decodes the JSON body of a GET into v. Non 2xx responses are errors.
func (o *OAuthSession) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := o.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("[OAuthSession GetJSON] read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("[OAuthSession GetJSON] %s returned %d: %s", url, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrMalformedResponse, body, err)
	}
	return nil
}
