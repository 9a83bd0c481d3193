package catalog

import "context"

// Store persists blueprints.
type Store interface {
	Get(ctx context.Context, id string) (*Blueprint, error)
	List(ctx context.Context) ([]*Blueprint, error)
	Create(ctx context.Context, b *Blueprint) error
	Update(ctx context.Context, b *Blueprint) error
	Delete(ctx context.Context, id string) error
	SetArtifact(ctx context.Context, id, key string) error
}

// SeedStore inserts every seed blueprint that is not already present.
func SeedStore(ctx context.Context, store Store, seed []*Blueprint) (int, error) {
	created := 0
	for _, b := range seed {
		err := store.Create(ctx, b)
		switch err {
		case nil:
			created++
		case ErrExists:
		default:
			return created, err
		}
	}
	return created, nil
}
