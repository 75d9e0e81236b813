package service

import (
	"errors"
	"strings"

	"golang.org/x/net/html"
)

// ErrEmptyQuiz 测验片段里找不到任何选项
var ErrEmptyQuiz = errors.New("quiz fragment contains no options")

// ScoreQuizFragment 按选项上的 data-correct 标记判分。
// selected 是 题目序号 -> 所选选项序号（均按文档顺序从 0 计）。
// 片段里没有 quiz-question 包裹时，整个片段视为一道题。
func ScoreQuizFragment(fragment string, selected map[int]int) (correct, total int, err error) {
	nodes, err := parseFragment(fragment)
	if err != nil {
		return 0, 0, err
	}

	var questions [][]*html.Node

	var collectOptions func(n *html.Node, opts *[]*html.Node)
	collectOptions = func(n *html.Node, opts *[]*html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "quiz-option") {
			*opts = append(*opts, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collectOptions(c, opts)
		}
	}

	var findQuestions func(n *html.Node)
	findQuestions = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "quiz-question") {
			var opts []*html.Node
			collectOptions(n, &opts)
			if len(opts) > 0 {
				questions = append(questions, opts)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findQuestions(c)
		}
	}
	for _, n := range nodes {
		findQuestions(n)
	}

	// 没有题目包裹时退化为单题
	if len(questions) == 0 {
		var opts []*html.Node
		for _, n := range nodes {
			collectOptions(n, &opts)
		}
		if len(opts) == 0 {
			return 0, 0, ErrEmptyQuiz
		}
		questions = append(questions, opts)
	}

	for qi, opts := range questions {
		total++
		chosen, ok := selected[qi]
		if !ok || chosen < 0 || chosen >= len(opts) {
			continue
		}
		if attrValue(opts[chosen], "data-correct") == "true" {
			correct++
		}
	}
	return correct, total, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
