package stores

import (
	"context"
	"fmt"

	"realtime-editor/config"
	"realtime-editor/core"
	"realtime-editor/stores/aws"
	"realtime-editor/stores/filesystem"
	"realtime-editor/stores/memory"
	"realtime-editor/stores/redis"
	"realtime-editor/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore builds the profile store selected by cfg.StorageType.
func GetStore(ctx context.Context, cfg *config.Config) (core.UserStore, error) {
	var (
		store core.UserStore
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store, err = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewStore(ctx, cfg.S3BucketName)
	case "redis":
		storageField["redisAddr"] = cfg.RedisAddr
		store, err = redis.NewStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		return nil, fmt.Errorf("init %s store: %w", cfg.StorageType, err)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
