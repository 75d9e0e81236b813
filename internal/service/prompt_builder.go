package service

import (
	"encoding/json"
	"fmt"
)

// GenerationKind 内容类型，五种生成共用同一个流式通道，仅提示词不同
type GenerationKind string

const (
	KindOutline    GenerationKind = "outline"
	KindSubOutline GenerationKind = "subOutline"
	KindNotes      GenerationKind = "notes"
	KindQuiz       GenerationKind = "quiz"
	KindDiveDeeper GenerationKind = "diveDeeper"
)

// PromptInput 调用方提供的命名字段，按类型取用
type PromptInput struct {
	Topic         string `json:"topic,omitempty"`
	SectionTitle  string `json:"sectionTitle,omitempty"`
	SubtopicTitle string `json:"subtopic,omitempty"`
	TopicChain    string `json:"topicChain,omitempty"`
	Question      string `json:"followUpQuestion,omitempty"`
}

// Prompt 系统指令 + 序列化后的上下文
type Prompt struct {
	System string
	User   string
}

// 所有类型共用的输出契约：纯 HTML 片段，固定结构类名，便于前端样式和注解定位
const fragmentContract = "Output only an HTML fragment. " +
	"Do not wrap it in markdown code fences. " +
	"Do not include <html>, <head> or <body> tags. " +
	"Do not use inline color or background styling. "

// BuildPrompt 纯映射，无任何网络或状态
func BuildPrompt(kind GenerationKind, input PromptInput) (Prompt, error) {
	ctx, err := json.Marshal(input)
	if err != nil {
		return Prompt{}, err
	}

	var system string
	switch kind {
	case KindOutline:
		system = "You are a study planner. Create a learning outline for the given topic. " +
			fragmentContract +
			"Structure: a <div class=\"outline\"> containing, per chapter, an <h2 class=\"chapter-title\"> " +
			"followed by a <ul> of <li class=\"section-item\"> entries naming the sections of that chapter."
	case KindSubOutline:
		system = "You are a study planner. Expand one section of a learning outline into its subtopics. " +
			fragmentContract +
			"Structure: a <div class=\"sub-outline\"> containing an <h2 class=\"section-title\"> " +
			"followed by a <ul> of <li class=\"subtopic-item\"> entries naming the subtopics to study."
	case KindNotes:
		system = "You are a tutor writing study notes. Explain the given subtopic thoroughly but concisely. " +
			fragmentContract +
			"Use <h3> headings, <p> paragraphs and <ul> lists as appropriate."
	case KindQuiz:
		system = "You are a tutor writing a short quiz about the given subtopic. " +
			fragmentContract +
			"Structure: for each question a <div class=\"quiz-question\"> containing a <p class=\"question-text\"> " +
			"and four <div class=\"quiz-option\"> answers; exactly one option per question carries " +
			"data-correct=\"true\", the others data-correct=\"false\"."
	case KindDiveDeeper:
		system = "You are a tutor answering a follow-up question in the context of the given topic chain. " +
			fragmentContract +
			"Use <p> paragraphs and <ul> lists as appropriate."
	default:
		return Prompt{}, fmt.Errorf("unknown generation kind: %s", kind)
	}

	return Prompt{System: system, User: string(ctx)}, nil
}
