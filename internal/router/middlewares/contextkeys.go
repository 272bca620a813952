package middlewares

// ContextKey is used to key context values.
type ContextKey int

const (
	// ContextKeyChain is used to store the chain name of the incoming request,
	// found in the request path.
	ContextKeyChain ContextKey = iota
	// ContextKeyNetwork is used to store the network name of the incoming request,
	// found in the network query parameter.
	ContextKeyNetwork
)
