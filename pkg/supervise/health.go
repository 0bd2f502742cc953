package supervise

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

func waitReady(ctx context.Context, h HealthCheck) error {
	switch strings.ToLower(h.Type) {
	case "tcp":
		if h.Address == "" {
			return errors.New("health tcp missing address")
		}
		return waitTCP(ctx, h.Address)
	case "http":
		url := h.URL
		if url == "" {
			url = h.Address
		}
		if url == "" {
			return errors.New("health http missing url")
		}
		return waitHTTP(ctx, url)
	default:
		return errors.Errorf("unsupported health type %q", h.Type)
	}
}

func waitTCP(ctx context.Context, address string) error {
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()

	for {
		d := net.Dialer{Timeout: 200 * time.Millisecond}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "tcp health timeout")
		case <-t.C:
		}
	}
}

func waitHTTP(ctx context.Context, url string) error {
	t := time.NewTicker(300 * time.Millisecond)
	defer t.Stop()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "health request")
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 500 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "http health timeout")
		case <-t.C:
		}
	}
}
