package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"studypath_backend/internal/config"
	"studypath_backend/internal/util"
	"studypath_backend/pkg/logger"

	"go.uber.org/zap"
)

// AIService 负责和上游模型的流式对接：一次生成 = 一条 chat/completions 流，
// 把 SSE 帧拆成纯文本增量吐给调用方。五种内容类型共用这一条通道。
type AIService struct {
	mu     sync.RWMutex
	cfg    config.ModelConfig
	client *http.Client
}

func NewAIService(cfg config.ModelConfig) *AIService {
	return &AIService{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// UpdateConfig 配置热加载时切换上游模型
func (s *AIService) UpdateConfig(cfg config.ModelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.client = &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func (s *AIService) snapshot() (config.ModelConfig, *http.Client) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Relay 打开一条流式生成。返回文本增量通道和错误通道；
// 增量通道关闭后必须读一次错误通道。ctx 取消会立即中断上游读取。
func (s *AIService) Relay(ctx context.Context, kind GenerationKind, input PromptInput) (<-chan string, <-chan error) {
	out := make(chan string, 64)
	errChan := make(chan error, 1)

	cfg, client := s.snapshot()

	// 凭证缺失直接失败，不发起任何连接
	if cfg.APIKey == "" {
		close(out)
		errChan <- util.ErrMissingAPIKey
		close(errChan)
		return out, errChan
	}

	prompt, err := BuildPrompt(kind, input)
	if err != nil {
		close(out)
		errChan <- err
		close(errChan)
		return out, errChan
	}

	reqBody := map[string]interface{}{
		"model": cfg.Name,
		"messages": []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		"stream": true,
	}

	jsonData, _ := json.Marshal(reqBody)

	go func() {
		defer close(out)
		defer close(errChan)

		req, err := http.NewRequestWithContext(ctx, "POST", cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			errChan <- err
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

		resp, err := client.Do(req)
		if err != nil {
			errChan <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errChan <- &util.UpstreamError{Status: resp.StatusCode, Body: string(body)}
			return
		}

		parser := &sseFrameParser{kind: string(kind)}
		buf := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				for _, delta := range parser.Feed(buf[:n]) {
					select {
					case out <- delta:
					case <-ctx.Done():
						errChan <- ctx.Err()
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					errChan <- err
					return
				}
				break
			}
		}

		// 流结束后再按同样的规则解析一次残留的缓冲
		for _, delta := range parser.Close() {
			select {
			case out <- delta:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return out, errChan
}

// sseFrameParser 把任意切分的字节流还原成文本增量。
// 按换行切出完整行，data: 前缀 + JSON 帧，[DONE] 为结束标记；
// 不完整的行尾留在缓冲里等下一次 Feed。
type sseFrameParser struct {
	buf  []byte
	kind string
}

func (p *sseFrameParser) Feed(b []byte) []string {
	p.buf = append(p.buf, b...)

	var deltas []string
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]

		if delta, ok := p.parseLine(line); ok {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// Close 处理流结束时没有换行收尾的最后一帧
func (p *sseFrameParser) Close() []string {
	if len(p.buf) == 0 {
		return nil
	}
	line := p.buf
	p.buf = nil

	if delta, ok := p.parseLine(line); ok {
		return []string{delta}
	}
	return nil
}

func (p *sseFrameParser) parseLine(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return "", false
	}

	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return "", false
	}

	var chunk chatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		// 单帧解析失败跳过，不中断整条流
		logger.Log.Debug("skipping malformed stream frame",
			zap.String("kind", p.kind),
			zap.String("frame", truncateFrame(data)),
			zap.Error(err))
		return "", false
	}

	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		return chunk.Choices[0].Delta.Content, true
	}
	return "", false
}

func truncateFrame(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:max], len(b))
}
