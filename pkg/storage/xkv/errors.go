package xkv

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// 预定义错误，使用 errors.Is 进行比较。
var (
	// ErrNotFound 键不存在。
	ErrNotFound = errors.New("xkv: key not found")

	// ErrNilClient 传入的 Redis 客户端为 nil。
	ErrNilClient = errors.New("xkv: nil redis client")

	// ErrClosed 存储已关闭。
	ErrClosed = errors.New("xkv: store closed")

	// ErrEmptyKey 键为空字符串。
	ErrEmptyKey = errors.New("xkv: empty key")

	// ErrRedisUnavailable Redis 不可达。
	ErrRedisUnavailable = errors.New("xkv: redis unavailable")
)

// redisRelatedErrors 包含所有需要按可达性归类的 Redis 相关错误。
var redisRelatedErrors = []error{
	ErrRedisUnavailable,
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	io.EOF,
	io.ErrUnexpectedEOF,
}

// IsRedisError 检查是否是 Redis 可达性错误。
//
// 使用类型断言和错误链检查，而不是字符串匹配。
// 只有可达性错误才计入降级判断；数据类错误（如对字符串键做列表操作）
// 说明调用方有 bug，降级解决不了。
func IsRedisError(err error) bool {
	if err == nil {
		return false
	}

	for _, target := range redisRelatedErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return isNetworkError(err)
}

// isNetworkError 检查是否是网络相关错误。
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
