package mock

import (
	"context"
	"sync"

	"seclens/internal/llm"
)

// Compile-time interface verification.
var _ llm.Completer = (*Completer)(nil)

// Completer is a mock implementation of llm.Completer. Every request is
// recorded in order.
type Completer struct {
	CompleteFn func(ctx context.Context, req llm.Request) (string, error)
	ModelName  string

	mu       sync.Mutex
	requests []llm.Request
}

func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.CompleteFn(ctx, req)
}

func (c *Completer) Model() string { return c.ModelName }

// Requests returns a copy of the requests received so far.
func (c *Completer) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.requests...)
}

// Replies returns a CompleteFn that answers with replies in order and
// repeats the last one once they run out.
func Replies(replies ...string) func(context.Context, llm.Request) (string, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(ctx context.Context, _ llm.Request) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		mu.Lock()
		defer mu.Unlock()
		r := replies[min(i, len(replies)-1)]
		i++
		return r, nil
	}
}
