package util

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrEmailRegistered = errors.New("该邮箱已被注册")

	// ErrMissingAPIKey 上游模型凭证未配置，生成请求直接失败，不发起任何连接
	ErrMissingAPIKey = errors.New("model api key is not configured")

	// ErrGenerationAborted 客户端断开导致生成被中止，结果不落库、不进缓存
	ErrGenerationAborted = errors.New("generation aborted")

	// ErrNodeNotFound 按标题解析父节点失败（比如上级章节还没生成过）
	ErrNodeNotFound = errors.New("content node not found")
)

// UpstreamError 上游模型返回非 2xx，原样携带状态码和响应体
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream model error (status %d): %s", e.Status, e.Body)
}
