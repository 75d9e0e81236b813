package service

import (
	"bytes"
	"strings"
)

// streamAssembler 把生成增量拼成完整内容，同时给出"安全"的渐进输出：
// 跨块被切断的 HTML 标签（形如 "<di"）先压在缓冲里，凑齐之前不往外发，
// 流结束时无条件全部放出。
type streamAssembler struct {
	full    strings.Builder
	pending []byte
}

func newStreamAssembler() *streamAssembler {
	return &streamAssembler{}
}

// Write 追加一个增量，返回当前可以安全输出的部分（可能为空）
func (a *streamAssembler) Write(delta string) string {
	a.full.WriteString(delta)
	a.pending = append(a.pending, delta...)

	cut := len(a.pending)
	if i := bytes.LastIndexByte(a.pending, '<'); i >= 0 {
		if bytes.IndexByte(a.pending[i:], '>') < 0 {
			// 最后一个 '<' 还没闭合，从这里开始押后
			cut = i
		}
	}

	out := string(a.pending[:cut])
	a.pending = a.pending[cut:]
	return out
}

// Flush 流结束时放出押后的尾巴，无论是否完整
func (a *streamAssembler) Flush() string {
	out := string(a.pending)
	a.pending = nil
	return out
}

// String 目前为止收到的全部内容
func (a *streamAssembler) String() string {
	return a.full.String()
}
