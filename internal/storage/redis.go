package storage

import (
	"context"
	"fmt"
	"time"

	"resume-pipeline-go/internal/config"
	"resume-pipeline-go/internal/constants"
	"resume-pipeline-go/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound Redis中键不存在
var ErrNotFound = redis.Nil

// Redis 去重缓存。记录每个案件内已见过的原始文件MD5，
// 同一案件内重复上传的文档在抽取阶段被短路处理。
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("Redis地址不能为空")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("注册Redis追踪钩子失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("连接Redis (%s) 失败: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("Redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// md5ExpireDuration 去重集合的过期时间
func (r *Redis) md5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndAddCaseRawMD5 将MD5加入案件去重集合。
// 返回true表示该MD5是首次出现，false表示同案件内已存在相同内容的文档。
func (r *Redis) CheckAndAddCaseRawMD5(ctx context.Context, caseID, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("Redis客户端未初始化")
	}
	key := fmt.Sprintf(constants.KeyCaseRawMD5Set, caseID)

	added, err := r.Client.SAdd(ctx, key, md5Hex).Result()
	if err != nil {
		return false, fmt.Errorf("写入案件去重集合 %s 失败: %w", tracing.SafeRedisKey(key), err)
	}
	// 过期时间只在首次写入时设置
	if err := r.Client.ExpireNX(ctx, key, r.md5ExpireDuration()).Err(); err != nil {
		return false, fmt.Errorf("设置去重集合 %s 过期时间失败: %w", tracing.SafeRedisKey(key), err)
	}
	return added == 1, nil
}
