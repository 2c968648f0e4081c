package resolvedplan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/planflow/config"
	"github.com/BaSui01/planflow/internal/database"
	"github.com/BaSui01/planflow/types"
)

// NewStore creates a Store for the configured backend.
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		store Store
		err   error
	)
	switch cfg.Type {
	case config.StoreTypeMemory, "":
		store = NewMemoryStore()
	case config.StoreTypeRedis:
		store, err = NewRedisStoreFromConfig(cfg.Redis)
	case config.StoreTypeGorm:
		var pm *database.PoolManager
		pm, err = database.Open(cfg.Database, logger)
		if err == nil {
			store, err = NewGormStoreFromPool(pm)
			if err != nil {
				_ = pm.Close()
			}
		}
	case config.StoreTypeMongo:
		store, err = NewMongoStoreFromConfig(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", ErrInvalidInput, cfg.Type)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "open "+string(cfg.Type)+" store").WithCause(err)
	}
	logger.Info("resolved plan store ready", zap.String("type", string(cfg.Type)))
	return store, nil
}

// MustNewStore is like NewStore but panics on error.
func MustNewStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) Store {
	s, err := NewStore(ctx, cfg, logger)
	if err != nil {
		panic(err)
	}
	return s
}
