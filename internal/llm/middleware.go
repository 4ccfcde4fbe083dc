package llm

import "context"

// CompleteFunc is the signature of a completion call, satisfied both by a
// bare adapter invocation and by the handler chain produced after
// middleware has wrapped it.
type CompleteFunc func(ctx context.Context, req Request) (Response, error)

// Middleware wraps a CompleteFunc to observe or alter a request/response
// pair. Registration order determines request-phase ordering; the chain
// unwinds in reverse order on the way back out (client_test.go pins this
// down as TestClient_MiddlewareChainOrder in the upstream client).
type Middleware interface {
	WrapComplete(next CompleteFunc) CompleteFunc
}

// MiddlewareFunc adapts a plain function into a Middleware, mirroring the
// http.HandlerFunc pattern.
type MiddlewareFunc struct {
	Complete func(ctx context.Context, req Request, next CompleteFunc) (Response, error)
}

func (m MiddlewareFunc) WrapComplete(next CompleteFunc) CompleteFunc {
	if m.Complete == nil {
		return next
	}
	return func(ctx context.Context, req Request) (Response, error) {
		return m.Complete(ctx, req, next)
	}
}

func applyMiddlewareComplete(base CompleteFunc, mws []Middleware) CompleteFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i].WrapComplete(h)
	}
	return h
}
