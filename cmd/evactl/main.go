// evactl talks to a running evasyncd over its unix socket.
//
// Usage:
//
//	evactl [-profile name] status
//	evactl [-profile name] sync
//	evactl [-profile name] queue
//	evactl [-profile name] backup
//	evactl [-profile name] restore <backup-id>
//	evactl [-profile name] conflicts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/helgasoul/eva-sync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: evactl [-profile name] status|sync|queue|backup|restore|conflicts")
		os.Exit(2)
	}

	client := newClient(profile.SocketPath(*profileFlag))

	var (
		body []byte
		err  error
	)
	switch args[0] {
	case "status":
		body, err = client.call(http.MethodGet, "/v1/status")
	case "sync":
		body, err = client.call(http.MethodPost, "/v1/sync")
	case "queue":
		body, err = client.call(http.MethodGet, "/v1/queue")
	case "backup":
		body, err = client.call(http.MethodPost, "/v1/backups")
	case "restore":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: evactl restore <backup-id>")
			os.Exit(2)
		}
		body, err = client.call(http.MethodPost, "/v1/backups/"+args[1]+"/restore")
	case "conflicts":
		body, err = client.call(http.MethodGet, "/v1/conflicts")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

type client struct {
	http *http.Client
}

func newClient(socketPath string) *client {
	return &client{
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) call(method, path string) ([]byte, error) {
	req, err := http.NewRequest(method, "http://evasyncd"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is evasyncd running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("daemon responded %d: %s", resp.StatusCode, body)
	}
	return body, nil
}
