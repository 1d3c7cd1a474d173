package repository

import (
	"github.com/alicebob/miniredis/v2"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/types"
)

// NewRedisClientForTest creates a Redis client backed by miniredis for testing
func NewRedisClientForTest() (*common.RedisClient, error) {
	s, err := miniredis.Run()
	if err != nil {
		return nil, err
	}

	rdb, err := common.NewRedisClient(types.RedisConfig{
		Addrs: []string{s.Addr()},
		Mode:  types.RedisModeSingle,
	})
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewSQLiteStoreForTest opens a private in-memory SQLite store
func NewSQLiteStoreForTest() (*SQLiteStore, error) {
	return NewSQLiteStore(sqliteMemoryPath)
}
