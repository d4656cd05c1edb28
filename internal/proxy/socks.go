// Package proxy builds an HTTP client that tunnels API traffic through a
// SOCKS5 proxy, for networks where the generation endpoints are blocked.
package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
)

func NewSocksClient(socksAddr string) (*http.Client, error) {
	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		},
	}

	// Image generation is the slowest stage; give it room.
	return &http.Client{
		Transport: transport,
		Timeout:   180 * time.Second,
	}, nil
}
