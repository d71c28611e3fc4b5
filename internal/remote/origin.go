package remote

import "context"

type originKey struct{}

// WithOrigin returns a context carrying the client address of a request.
func WithOrigin(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, originKey{}, addr)
}

// OriginFrom returns the client address stored by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	addr, _ := ctx.Value(originKey{}).(string)
	return addr
}
