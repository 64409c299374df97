package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// FetchSnapshot connects to a running console server over its Unix socket
// and returns one point-in-time state export. Used by the "show" CLI
// subcommand.
func FetchSnapshot(socketPath string) (*Snapshot, error) {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://meshrtrd/snapshot")
	if err != nil {
		return nil, fmt.Errorf("connecting to console socket: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot response: %w", err)
	}
	return &snap, nil
}

// Watch connects to the console server's live feed and invokes fn with
// every snapshot pushed until ctx is canceled or the connection drops.
func Watch(ctx context.Context, socketPath string, fn func(Snapshot)) error {
	dialer := &net.Dialer{}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	c, _, err := websocket.Dial(ctx, "ws://meshrtrd/live", &websocket.DialOptions{HTTPClient: httpClient})
	if err != nil {
		return fmt.Errorf("connecting to console live feed: %w", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return fmt.Errorf("reading live feed: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("decoding live feed snapshot: %w", err)
		}
		fn(snap)
	}
}
