package coord

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverBolt   = "bolt"
)

type Options struct {
	Driver   string
	RedisURL string
	BoltPath string
}

// Open builds the Store selected by opts.Driver.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverMemory:
		logger.Info("coordination store", zap.String("driver", DriverMemory))
		return NewMemory(), nil
	case DriverRedis:
		store, err := OpenRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("coordination store", zap.String("driver", DriverRedis))
		return store, nil
	case DriverBolt:
		store, err := OpenBolt(opts.BoltPath)
		if err != nil {
			return nil, err
		}
		logger.Info("coordination store", zap.String("driver", DriverBolt), zap.String("path", opts.BoltPath))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported coord driver %q", opts.Driver)
	}
}
