package llmstream

import (
	"context"
	"fmt"
	"sync"
)

// Backend is a streaming language-model backend. Implementations translate
// Request into their native wire format and normalize provider events into
// the WireEvent union.
type Backend interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan WireEvent, error)
}

// StreamMiddleware wraps a streaming backend call.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan WireEvent, error)) (<-chan WireEvent, error)

// Client routes streaming requests to named backends through middleware.
// It is safe for concurrent use; all per-conversation state lives in the
// orchestration layer.
type Client struct {
	backends       map[string]Backend
	defaultBackend string
	middleware     []StreamMiddleware
	mu             sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackend registers a backend under a name.
func WithBackend(name string, backend Backend) ClientOption {
	return func(c *Client) {
		c.backends[name] = backend
	}
}

// WithDefaultBackend sets the backend used when a request names none.
func WithDefaultBackend(name string) ClientOption {
	return func(c *Client) {
		c.defaultBackend = name
	}
}

// WithStreamMiddleware appends stream middleware. The first registered
// middleware runs first.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewClient creates a Client with the given options. If exactly one backend
// is registered and no default is named, that backend becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{backends: make(map[string]Backend)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultBackend == "" && len(c.backends) == 1 {
		for name := range c.backends {
			c.defaultBackend = name
		}
	}
	return c
}

// RegisterBackend adds a backend to the client.
func (c *Client) RegisterBackend(name string, backend Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[name] = backend
	if c.defaultBackend == "" {
		c.defaultBackend = name
	}
}

// resolveBackend picks the backend for a request.
func (c *Client) resolveBackend(req Request) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Backend
	if name == "" {
		name = c.defaultBackend
	}
	if name == "" {
		return nil, &ConfigError{Message: "no backend specified and no default backend configured"}
	}
	backend, ok := c.backends[name]
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("backend %q is not registered", name)}
	}
	return backend, nil
}

// Stream sends a streaming request through middleware to the resolved
// backend.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan WireEvent, error) {
	backend, err := c.resolveBackend(req)
	if err != nil {
		return nil, err
	}

	if req.Backend == "" {
		req.Backend = backend.Name()
	}

	handler := func(ctx context.Context, r Request) (<-chan WireEvent, error) {
		return backend.Stream(ctx, r)
	}

	// Apply middleware in reverse order so first registered runs first.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan WireEvent, error) {
			return mw(ctx, r, next)
		}
	}

	return handler(ctx, req)
}
