package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/msggate/pkg/storage/xkv"
)

// openStore 连接 Redis 并返回计数存储。
// 返回的 cleanup 负责断开连接，调用方必须执行。
func openStore(ctx context.Context, addr string) (xkv.Store, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("连接 Redis %s 失败: %w", addr, err)
	}

	store, err := xkv.NewRedis(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = store.Close()
		_ = client.Close()
	}
	return store, cleanup, nil
}
