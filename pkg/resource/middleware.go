package resource

import "context"

// Operation names middleware can attach to.
const (
	OpInsert     = "insert"
	OpInsertMany = "insertMany"
	OpGet        = "get"
	OpUpdate     = "update"
	OpPatch      = "patch"
	OpReplace    = "replace"
	OpUpsert     = "upsert"
	OpDelete     = "delete"
	OpDeleteMany = "deleteMany"
	OpList       = "list"
	OpQuery      = "query"
)

// OpContext is the mutable call frame a middleware sees. Args carries the
// operation inputs under stable keys ("id", "data", "filter", ...); edits
// flow into the core operation.
type OpContext struct {
	Op       string
	Resource *Resource
	Args     map[string]any
}

// Next continues the middleware chain and eventually runs the core
// operation.
type Next func() (any, error)

// Middleware wraps one operation invocation. Implementations decide
// whether to call next, and may rewrite args before and the result after.
type Middleware func(ctx context.Context, op *OpContext, next Next) (any, error)

// UseMiddleware registers mw around the named operation, outermost first
// in registration order. An empty op attaches to every operation.
func (r *Resource) UseMiddleware(op string, mw Middleware) {
	r.mwMu.Lock()
	defer r.mwMu.Unlock()
	r.middleware[op] = append(r.middleware[op], mw)
}

// run executes core through the middleware chain for op. Global ("")
// middleware wraps operation-specific middleware.
func (r *Resource) run(ctx context.Context, op string, args map[string]any, core func(oc *OpContext) (any, error)) (any, error) {
	oc := &OpContext{Op: op, Resource: r, Args: args}

	r.mwMu.RLock()
	chain := make([]Middleware, 0, len(r.middleware[""])+len(r.middleware[op]))
	chain = append(chain, r.middleware[""]...)
	chain = append(chain, r.middleware[op]...)
	r.mwMu.RUnlock()

	next := func() (any, error) { return core(oc) }
	for i := len(chain) - 1; i >= 0; i-- {
		mw, inner := chain[i], next
		next = func() (any, error) { return mw(ctx, oc, inner) }
	}
	return next()
}
