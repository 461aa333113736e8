package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultConnectivityURL is probed at startup to confirm outbound access.
const DefaultConnectivityURL = "http://httpbin.org/get"

// CheckConnectivity fails when url cannot be fetched with client, typically
// because an outbound proxy is missing or misconfigured.
func CheckConnectivity(ctx context.Context, client *http.Client, url string) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("[CheckConnectivity] %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("[CheckConnectivity] no connection to the internet, required for OAuth, check your proxy: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("[CheckConnectivity] %s answered %d: %s", url, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
