package service

import (
	"context"

	"github.com/bigkaa/homedrive/internal/storage/registry"
)

// Stats — сводка по реестру.
type Stats struct {
	Users   int
	Active  int
	Trashed int
}

// CollectStats подсчитывает пользователей и файлы по состояниям.
func CollectStats(ctx context.Context, reg registry.Store) (*Stats, error) {
	users, err := reg.Usernames(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{Users: len(users)}
	for _, u := range users {
		active, err := reg.ListActive(ctx, u)
		if err != nil {
			return nil, err
		}
		trashed, err := reg.ListTrashed(ctx, u)
		if err != nil {
			return nil, err
		}
		st.Active += len(active)
		st.Trashed += len(trashed)
	}
	return st, nil
}
