package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outlineFragment = `<div class="outline">` +
	`<h2 class="chapter-title">Basics</h2>` +
	`<ul><li class="section-item">Syntax</li><li class="section-item">Types</li></ul>` +
	`<h2 class="chapter-title">Concurrency</h2>` +
	`<ul><li class="section-item">Goroutines</li></ul>` +
	`</div>`

func TestAnnotateOutline(t *testing.T) {
	got, err := Annotate(outlineFragment, KindOutline)
	require.NoError(t, err)

	assert.Contains(t, got, `data-title="Basics"`)
	assert.Contains(t, got, `data-title="Syntax"`)
	assert.Contains(t, got, `data-title="Types"`)
	assert.Contains(t, got, `data-parent="Basics"`)
	// 第二章的小节挂到第二章标题下
	assert.Contains(t, got, `data-parent="Concurrency"`)
	assert.Contains(t, got, "navigable")
}

func TestAnnotateIdempotent(t *testing.T) {
	once, err := Annotate(outlineFragment, KindOutline)
	require.NoError(t, err)
	twice, err := Annotate(once, KindOutline)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestAnnotateKeepsVisibleText(t *testing.T) {
	got, err := Annotate(outlineFragment, KindOutline)
	require.NoError(t, err)

	for _, text := range []string{"Basics", "Syntax", "Types", "Concurrency", "Goroutines"} {
		assert.Contains(t, got, ">"+text+"<")
	}
}

func TestAnnotateKeepsExistingClasses(t *testing.T) {
	got, err := Annotate(`<h2 class="chapter-title">X</h2>`, KindOutline)
	require.NoError(t, err)
	assert.Contains(t, got, `class="chapter-title navigable"`)
	// 重复注解不叠加类名
	again, err := Annotate(got, KindOutline)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(again, "navigable"))
}

func TestAnnotateNestedMarkupInTitle(t *testing.T) {
	got, err := Annotate(`<h2><em>Deep</em> Dive</h2>`, KindOutline)
	require.NoError(t, err)
	assert.Contains(t, got, `data-title="Deep Dive"`)
}

func TestAnnotateLiWithoutHeadingHasNoParent(t *testing.T) {
	got, err := Annotate(`<ul><li>Orphan</li></ul>`, KindSubOutline)
	require.NoError(t, err)
	assert.Contains(t, got, `data-title="Orphan"`)
	assert.NotContains(t, got, "data-parent")
}

func TestAnnotateNonOutlineKindsUntouched(t *testing.T) {
	fragment := `<h3>Notes</h3><ul><li>point</li></ul>`
	for _, kind := range []GenerationKind{KindNotes, KindQuiz, KindDiveDeeper} {
		got, err := Annotate(fragment, kind)
		require.NoError(t, err)
		assert.Equal(t, fragment, got)
	}
}
