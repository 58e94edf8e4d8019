package dao

import (
	"context"
)

// Service is the generic persistence contract shared by registry and
// template storage. State records use the richer store.Service contract
// because they additionally require conditional atomic primitives.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
