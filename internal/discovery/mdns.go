// Package discovery advertises a session server over mDNS and lets agents
// find one without a configured URL.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	domain = "local."
	wsPath = "/ws"
)

// ErrNotFound is returned by Find when no server answers in time.
var ErrNotFound = errors.New("no session server found")

// Advertise registers the server under service on port. Call Shutdown on the
// result when the server stops.
func Advertise(service string, port int) (*zeroconf.Server, error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("%s-%s", "CollabText", host),
		service,
		domain,
		port,
		[]string{"txtv=0", "path=" + wsPath},
		nil,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "register mDNS service %s", service)
	}
	return server, nil
}

// Find browses for service and returns the WebSocket URL of the first
// server that answers before ctx is done.
func Find(ctx context.Context, service string) (string, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return "", errors.Wrap(err, "init mDNS resolver")
	}
	entries := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", errors.Wrapf(err, "browse %s", service)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if u, ok := URL(entry); ok {
				return u, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// URL builds the WebSocket URL for a resolved entry, preferring IPv4.
func URL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	path := wsPath
	for _, t := range entry.Text {
		if len(t) > 5 && t[:5] == "path=" {
			path = t[5:]
		}
	}
	return "ws://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)) + path, true
}
