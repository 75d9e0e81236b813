package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemblerPassesCompleteMarkup(t *testing.T) {
	a := newStreamAssembler()
	out := a.Write("<div><p>hello</p>")
	assert.Equal(t, "<div><p>hello</p>", out)
	assert.Empty(t, a.Flush())
	assert.Equal(t, "<div><p>hello</p>", a.String())
}

func TestAssemblerHoldsBackSplitTag(t *testing.T) {
	a := newStreamAssembler()

	out := a.Write("<div>text<sp")
	assert.Equal(t, "<div>text", out)

	out = a.Write("an>more</span>")
	assert.Equal(t, "<span>more</span>", out)
}

func TestAssemblerHoldsBareAngle(t *testing.T) {
	a := newStreamAssembler()
	out := a.Write("abc<")
	assert.Equal(t, "abc", out)
	out = a.Write("b>d")
	assert.Equal(t, "<b>d", out)
}

func TestAssemblerFlushReleasesTail(t *testing.T) {
	// 流结束时残缺的标签也要放出去，内容不能丢
	a := newStreamAssembler()
	out := a.Write("ok<di")
	assert.Equal(t, "ok", out)
	assert.Equal(t, "<di", a.Flush())
	assert.Equal(t, "ok<di", a.String())
}

func TestAssemblerSplitAcrossManyChunks(t *testing.T) {
	a := newStreamAssembler()
	var emitted string
	for _, chunk := range []string{"<", "d", "i", "v", ">", "x", "</div>"} {
		emitted += a.Write(chunk)
	}
	emitted += a.Flush()
	assert.Equal(t, "<div>x</div>", emitted)
	assert.Equal(t, "<div>x</div>", a.String())
}

func TestAssemblerEmptyDelta(t *testing.T) {
	a := newStreamAssembler()
	assert.Empty(t, a.Write(""))
	assert.Empty(t, a.Flush())
	assert.Empty(t, a.String())
}
