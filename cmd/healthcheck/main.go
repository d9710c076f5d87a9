// Command healthcheck checks the notionwidgets control API from inside its
// container. It exits 0 when /api/v1/health answers 200 with status "ok",
// and 1 otherwise. The address comes from NOTIONWIDGETS_HTTP_LISTEN_ADDR,
// the same variable serve reads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	listenAddrEnv = "NOTIONWIDGETS_HTTP_LISTEN_ADDR"
	defaultAddr   = "127.0.0.1:8080"
	checkTimeout  = 2 * time.Second
)

func main() {
	os.Exit(check(context.Background(), os.Getenv(listenAddrEnv)))
}

func check(ctx context.Context, listenAddr string) int {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/api/v1/health", dialAddr(listenAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}

	resp, err := (&http.Client{Timeout: checkTimeout}).Do(req)
	if err != nil {
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 1
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		return 1
	}
	return 0
}

// dialAddr turns serve's bind address into one the check can dial. A
// wildcard host becomes loopback; an unusable value falls back to the default.
func dialAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil || port == "" {
		return defaultAddr
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
