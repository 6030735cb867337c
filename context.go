package goRecycle

import (
	"context"

	"github.com/MrEthical07/goRecycle/api"
)

// WithRequestID fixes the X-Request-ID sent with backend calls made under ctx. Without
// it every request gets a fresh UUID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return api.WithRequestID(ctx, id)
}
