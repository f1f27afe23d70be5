// Package xid 基于 Sonyflake 生成违规记录等持久化对象的唯一标识。
//
// ID 是 63 位整数（39 位时间 + 8 位序列 + 16 位机器），字符串形式为
// base36 编码，12-13 个字符，按时间大致有序，适合做 MongoDB 的 _id。
//
// 机器 ID 的获取策略见 DefaultMachineID。多实例部署时建议通过
// MSGGATE_MACHINE_ID 环境变量显式分配，避免哈希碰撞。
package xid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/sonyflake/v2"
)

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrInvalidID ID 值无效（零或负数，或无法解析）。
	ErrInvalidID = errors.New("xid: invalid id")

	// ErrInvalidConfig 配置参数无效，或 sonyflake 初始化失败。
	ErrInvalidConfig = errors.New("xid: invalid config")

	// ErrClockBackwardTimeout 时钟回拨等待超时。
	ErrClockBackwardTimeout = errors.New("xid: clock backward wait timeout")

	// ErrOverTimeLimit 时间分量溢出，生成器无法继续生成 ID。不可恢复。
	ErrOverTimeLimit = errors.New("xid: time component overflow")

	// ErrNoPrivateAddress 所有机器 ID 策略均失败且没有私有 IPv4 地址。
	ErrNoPrivateAddress = errors.New("xid: no private IP address found")
)

// 时钟回拨重试的默认参数。sonyflake 的时间精度是 10ms，
// NTP 回拨通常不超过几百毫秒。
const (
	DefaultMaxWait       = 500 * time.Millisecond
	DefaultRetryInterval = 10 * time.Millisecond
)

// Sonyflake v2 的固定位布局（39+8+16=63 bits）。
const (
	machineBits  = 16
	sequenceBits = 8
	machineMask  = (1 << machineBits) - 1
	sequenceMask = (1 << sequenceBits) - 1
)

// Components ID 分解后的各组成部分。
type Components struct {
	// ID 原始 ID 值。
	ID int64
	// Time 时间戳分量（10ms 单位，自 Sonyflake epoch 起）。
	Time int64
	// Sequence 同一时间单位内的递增序号（0-255）。
	Sequence int64
	// Machine 机器 ID（0-65535）。
	Machine int64
}

// Generator 分布式唯一 ID 生成器。并发安全。
type Generator struct {
	sf            *sonyflake.Sonyflake
	maxWait       time.Duration
	retryInterval time.Duration
	// nextID 默认为 sf.NextID，测试中可替换。
	nextID func() (int64, error)
}

// NewGenerator 创建 ID 生成器。
// 不传 WithMachineID 时使用 DefaultMachineID 的多层回退策略。
func NewGenerator(opts ...Option) (*Generator, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxWait < 0 || cfg.retryInterval < 0 {
		return nil, fmt.Errorf("%w: negative wait settings", ErrInvalidConfig)
	}

	machineID := cfg.machineID
	if machineID == nil {
		machineID = DefaultMachineID
	}

	sf, err := sonyflake.New(sonyflake.Settings{
		MachineID: func() (int, error) {
			id, err := machineID()
			return int(id), err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Generator{
		sf:            sf,
		maxWait:       cfg.maxWait,
		retryInterval: cfg.retryInterval,
	}
	g.nextID = sf.NextID
	return g, nil
}

// New 生成新的唯一 ID，遇到时钟回拨时自动等待重试。
// 等待超过 maxWait 仍无法生成时返回 ErrClockBackwardTimeout。
func (g *Generator) New(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	id, err := g.nextID()
	if err == nil {
		return id, nil
	}
	if errors.Is(err, sonyflake.ErrOverTimeLimit) {
		return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
	}

	deadline := time.Now().Add(g.maxWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: %w", ErrClockBackwardTimeout, err)
		}

		timer := time.NewTimer(min(g.retryInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C:
		}

		id, err = g.nextID()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, sonyflake.ErrOverTimeLimit) {
			return 0, fmt.Errorf("%w: %w", ErrOverTimeLimit, err)
		}
	}
}

// NewString 生成新的唯一 ID 的 base36 字符串形式。
func (g *Generator) NewString(ctx context.Context) (string, error) {
	id, err := g.New(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// Parse 解析 base36 编码的 ID 字符串。
func Parse(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 36, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: value must be positive, got %d", ErrInvalidID, id)
	}
	return id, nil
}

// Decompose 按 Sonyflake v2 的固定位布局分解 ID。纯函数。
func Decompose(id int64) (Components, error) {
	if id <= 0 {
		return Components{}, fmt.Errorf("%w: value must be positive, got %d", ErrInvalidID, id)
	}
	return Components{
		ID:       id,
		Machine:  id & machineMask,
		Sequence: (id >> machineBits) & sequenceMask,
		Time:     id >> (machineBits + sequenceBits),
	}, nil
}
