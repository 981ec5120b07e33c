// ABOUTME: Builds a transport from a URI: ws/wss, http/https, or mem scheme.
// ABOUTME: mem endpoints resolve through a process-local registry of listening pairs.

package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
)

// New builds a transport for uri. Schemes:
//
//	ws://, wss://     socket transport
//	http://, https:// polling transport
//	mem://name        in-process pair registered with ListenInproc
func New(uri string, opts Options, logger *slog.Logger) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse transport uri: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return NewSocket(uri, opts, logger), nil
	case "http", "https":
		return NewPolling(uri, opts, logger), nil
	case "mem":
		return claimInproc(u.Host)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// inprocEndpoints holds the host ends waiting to be claimed by New("mem://...").
var inprocEndpoints = struct {
	sync.Mutex
	m map[string]*Inproc
}{m: make(map[string]*Inproc)}

// ListenInproc creates a pair for name and returns the host end. The client
// end is handed out once to whoever calls New("mem://name"). Listening twice
// on the same name replaces the unclaimed client end.
func ListenInproc(name string, opts Options, logger *slog.Logger) *Inproc {
	host, client := NewPair(opts, logger)
	inprocEndpoints.Lock()
	inprocEndpoints.m[name] = client
	inprocEndpoints.Unlock()
	return host
}

func claimInproc(name string) (Transport, error) {
	inprocEndpoints.Lock()
	defer inprocEndpoints.Unlock()
	t, ok := inprocEndpoints.m[name]
	if !ok {
		return nil, fmt.Errorf("no in-process endpoint %q is listening", name)
	}
	delete(inprocEndpoints.m, name)
	return t, nil
}
