package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quizFragment = `<div class="quiz-question">` +
	`<p class="question-text">What starts a goroutine?</p>` +
	`<div class="quiz-option" data-correct="false">defer</div>` +
	`<div class="quiz-option" data-correct="true">go</div>` +
	`<div class="quiz-option" data-correct="false">select</div>` +
	`<div class="quiz-option" data-correct="false">chan</div>` +
	`</div>` +
	`<div class="quiz-question">` +
	`<p class="question-text">What closes a channel?</p>` +
	`<div class="quiz-option" data-correct="true">close</div>` +
	`<div class="quiz-option" data-correct="false">stop</div>` +
	`</div>`

func TestScoreQuizAllCorrect(t *testing.T) {
	correct, total, err := ScoreQuizFragment(quizFragment, map[int]int{0: 1, 1: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, correct)
	assert.Equal(t, 2, total)
}

func TestScoreQuizPartial(t *testing.T) {
	correct, total, err := ScoreQuizFragment(quizFragment, map[int]int{0: 1, 1: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, correct)
	assert.Equal(t, 2, total)
}

func TestScoreQuizUnanswered(t *testing.T) {
	// 没作答的题按错算
	correct, total, err := ScoreQuizFragment(quizFragment, map[int]int{0: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, correct)
	assert.Equal(t, 2, total)
}

func TestScoreQuizOutOfRangeSelection(t *testing.T) {
	correct, total, err := ScoreQuizFragment(quizFragment, map[int]int{0: 99, 1: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, correct)
	assert.Equal(t, 2, total)
}

func TestScoreQuizWithoutWrappers(t *testing.T) {
	// 没有 quiz-question 包裹时整个片段视为一道题
	fragment := `<div class="quiz-option" data-correct="true">yes</div>` +
		`<div class="quiz-option" data-correct="false">no</div>`

	correct, total, err := ScoreQuizFragment(fragment, map[int]int{0: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, correct)
	assert.Equal(t, 1, total)
}

func TestScoreQuizEmptyFragment(t *testing.T) {
	_, _, err := ScoreQuizFragment("<p>no options here</p>", map[int]int{})
	assert.ErrorIs(t, err, ErrEmptyQuiz)
}
