// Package mock provides an in-memory transport, so whole meshes of nodes can run inside one process.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/encodeous/weft/state"
)

var ErrUnreachable = errors.New("node is not reachable")

type handler func(ctx context.Context, data []byte) ([]byte, error)

// Network connects MemTransports by url. Links can be cut to simulate partitions.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]handler
	cut      map[state.Pair[string, string]]bool
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[string]handler),
		cut:      make(map[state.Pair[string, string]]bool),
	}
}

// Url returns the url of a node on this network
func Url(node state.NodeId) string {
	return fmt.Sprintf("mem://%s", node)
}

func (n *Network) Transport(node state.NodeId) *MemTransport {
	return &MemTransport{net: n, url: Url(node)}
}

// SetLink cuts or restores the link between two nodes in both directions
func (n *Network) SetLink(a, b state.NodeId, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[state.Pair[string, string]{V1: Url(a), V2: Url(b)}] = !up
	n.cut[state.Pair[string, string]{V1: Url(b), V2: Url(a)}] = !up
}

func (n *Network) deliver(ctx context.Context, from, to string, data []byte) ([]byte, error) {
	n.mu.RLock()
	h, ok := n.handlers[to]
	cut := n.cut[state.Pair[string, string]{V1: from, V2: to}]
	n.mu.RUnlock()
	if !ok || cut {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, to)
	}
	return h(ctx, data)
}

// MemTransport implements state.Transport on top of a Network
type MemTransport struct {
	net *Network
	url string
}

func (t *MemTransport) Send(ctx context.Context, url string, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.net.deliver(ctx, t.url, url, data)
}

func (t *MemTransport) Listen(h func(ctx context.Context, data []byte) ([]byte, error)) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if _, ok := t.net.handlers[t.url]; ok {
		return fmt.Errorf("%s is already listening", t.url)
	}
	t.net.handlers[t.url] = h
	return nil
}

func (t *MemTransport) Close() error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	delete(t.net.handlers, t.url)
	return nil
}
