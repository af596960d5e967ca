package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/curvewatch/indexer/internal/common"
	"github.com/curvewatch/indexer/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DEFAULT_ARENA_SIZE = 4096

// arena is the scratch space of a single replay run. It is created when a run
// starts and dropped when it ends, so nothing cached here outlives the run.
// Token groups share it concurrently.
type arena struct {
	users     *lru.Cache[string, *common.User]
	directory storage.IUserDirectory
}

func newArena(directory storage.IUserDirectory, size int) (*arena, error) {
	if size <= 0 {
		size = DEFAULT_ARENA_SIZE
	}
	users, err := lru.New[string, *common.User](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	return &arena{users: users, directory: directory}, nil
}

// user resolves an account by address, creating it on first sight.
func (a *arena) user(ctx context.Context, address string) (*common.User, error) {
	address = common.NormalizeAddress(address)
	if u, ok := a.users.Get(address); ok {
		return u, nil
	}
	u, err := a.directory.FindByAddress(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		u, err = a.directory.CreateUser(ctx, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %s: %w", address, err)
	}
	a.users.Add(address, u)
	return u, nil
}
