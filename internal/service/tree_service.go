package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"studypath_backend/internal/model"
	"studypath_backend/internal/util"
	"studypath_backend/pkg/logger"
	"studypath_backend/pkg/monitoring"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// EmitFunc 把一段可安全渲染的 HTML 推给客户端。
// 返回错误表示客户端已断开，本次生成按中止处理。
type EmitFunc func(chunk string) error

type relayClient interface {
	Relay(ctx context.Context, kind GenerationKind, input PromptInput) (<-chan string, <-chan error)
}

type topicStore interface {
	FindByTitle(userID uint, title string) (*model.Topic, error)
	Create(topic *model.Topic) error
	FindByID(id uint) (*model.Topic, error)
	ListByUser(userID uint) ([]model.Topic, error)
	UpdateOutline(id uint, html string) error
	TouchLastAccessed(id uint) error
	BumpProgress(id uint, delta int) error
	AddStudyTime(id uint, minutes int) error
}

type subtopicStore interface {
	FindByTitle(topicID uint, title string) (*model.Subtopic, error)
	Create(sub *model.Subtopic) error
	FindByID(id uint) (*model.Subtopic, error)
	ListByTopic(topicID uint) ([]model.Subtopic, error)
	UpdateContent(id uint, html string) error
	TouchLastAccessed(id uint) error
}

type noteStore interface {
	FindByTitle(subtopicID uint, title string) (*model.Note, error)
	Create(note *model.Note) error
	FindByID(id uint) (*model.Note, error)
	ListBySubtopic(subtopicID uint) ([]model.Note, error)
	UpdateContent(id uint, html string) error
}

type quizStore interface {
	Latest(noteID uint) (*model.Quiz, error)
	Create(quiz *model.Quiz) error
	FindByID(id uint) (*model.Quiz, error)
	UpdateScore(id uint, score int) error
}

type diveDeeperStore interface {
	Create(dd *model.DiveDeeper) error
	ListByNote(noteID uint) ([]model.DiveDeeper, error)
}

// cacheEntry 进程内缓存。Durable=false 表示这份内容落库失败过，
// 只在本进程内有效，不往 Redis 写。
type cacheEntry struct {
	HTML    string
	Durable bool
}

// TreeService 内容树导航：每次打开一个节点都走同一条
// 内存缓存 -> Redis -> 数据库 -> 上游生成 的取数链路。
// 同一节点的并发请求合流到一次上游调用。
type TreeService struct {
	ai      relayClient
	topics  topicStore
	subs    subtopicStore
	notes   noteStore
	quizzes quizStore
	dives   diveDeeperStore
	rdb     *redis.Client // 可为 nil，Redis 只是加速层

	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	flights singleflight.Group
}

const contentCacheTTL = 12 * time.Hour

func NewTreeService(
	ai relayClient,
	topics topicStore,
	subs subtopicStore,
	notes noteStore,
	quizzes quizStore,
	dives diveDeeperStore,
	rdb *redis.Client,
) *TreeService {
	return &TreeService{
		ai:      ai,
		topics:  topics,
		subs:    subs,
		notes:   notes,
		quizzes: quizzes,
		dives:   dives,
		rdb:     rdb,
		cache:   make(map[string]*cacheEntry),
	}
}

// OpenTopic 打开（或首次生成）一个主题的学习大纲
func (s *TreeService) OpenTopic(ctx context.Context, userID uint, title string, regenerate bool, emit EmitFunc) error {
	key := fmt.Sprintf("outline:%d:%s", userID, title)

	lookup := func() (string, error) {
		topic, err := s.topics.FindByTitle(userID, title)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil
			}
			return "", err
		}
		if topic.HTMLOutline == "" {
			return "", nil
		}
		if err := s.topics.TouchLastAccessed(topic.ID); err != nil {
			logger.Log.Warn("touch topic failed", zap.Uint("id", topic.ID), zap.Error(err))
		}
		return topic.HTMLOutline, nil
	}

	persist := func(html string) error {
		topic, err := s.topics.FindByTitle(userID, title)
		if err == nil {
			return s.topics.UpdateOutline(topic.ID, html)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.topics.Create(&model.Topic{
			UserID:      userID,
			Title:       title,
			HTMLOutline: html,
		})
	}

	return s.getOrGenerate(ctx, key, KindOutline,
		PromptInput{Topic: title}, regenerate, lookup, persist, emit)
}

// OpenSection 展开大纲里的一个章节，生成它的小主题列表。
// 上级主题必须已经生成过，否则返回 ErrNodeNotFound。
func (s *TreeService) OpenSection(ctx context.Context, userID uint, topicTitle, sectionTitle string, regenerate bool, emit EmitFunc) error {
	topic, err := s.topics.FindByTitle(userID, topicTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNodeNotFound
		}
		return err
	}

	key := fmt.Sprintf("subOutline:%d:%s", topic.ID, sectionTitle)

	lookup := func() (string, error) {
		sub, err := s.subs.FindByTitle(topic.ID, sectionTitle)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil
			}
			return "", err
		}
		if sub.HTMLContent == "" {
			return "", nil
		}
		if err := s.subs.TouchLastAccessed(sub.ID); err != nil {
			logger.Log.Warn("touch subtopic failed", zap.Uint("id", sub.ID), zap.Error(err))
		}
		return sub.HTMLContent, nil
	}

	persist := func(html string) error {
		sub, err := s.subs.FindByTitle(topic.ID, sectionTitle)
		if err == nil {
			return s.subs.UpdateContent(sub.ID, html)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.subs.Create(&model.Subtopic{
			TopicID:     topic.ID,
			Title:       sectionTitle,
			HTMLContent: html,
		})
	}

	return s.getOrGenerate(ctx, key, KindSubOutline,
		PromptInput{Topic: topicTitle, SectionTitle: sectionTitle},
		regenerate, lookup, persist, emit)
}

// OpenSubtopic 打开章节下的一个小主题，生成学习笔记
func (s *TreeService) OpenSubtopic(ctx context.Context, userID uint, topicTitle, sectionTitle, subtopicTitle string, regenerate bool, emit EmitFunc) error {
	topic, err := s.topics.FindByTitle(userID, topicTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNodeNotFound
		}
		return err
	}
	section, err := s.subs.FindByTitle(topic.ID, sectionTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNodeNotFound
		}
		return err
	}

	key := fmt.Sprintf("notes:%d:%s", section.ID, subtopicTitle)

	lookup := func() (string, error) {
		note, err := s.notes.FindByTitle(section.ID, subtopicTitle)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil
			}
			return "", err
		}
		return note.HTMLContent, nil
	}

	persist := func(html string) error {
		note, err := s.notes.FindByTitle(section.ID, subtopicTitle)
		if err == nil {
			return s.notes.UpdateContent(note.ID, html)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return s.notes.Create(&model.Note{
			SubtopicID:  section.ID,
			Title:       subtopicTitle,
			HTMLContent: html,
		})
	}

	return s.getOrGenerate(ctx, key, KindNotes,
		PromptInput{Topic: topicTitle, SectionTitle: sectionTitle, SubtopicTitle: subtopicTitle},
		regenerate, lookup, persist, emit)
}

// GenerateQuiz 取笔记当前的测验，没有或要求重出时生成一份新的。
// 重新生成插入新行，历史成绩随旧行保留。
func (s *TreeService) GenerateQuiz(ctx context.Context, userID uint, noteID uint, regenerate bool, emit EmitFunc) error {
	note, err := s.resolveNote(userID, noteID)
	if err != nil {
		return err
	}

	input := PromptInput{SubtopicTitle: note.Title}
	if sub, err := s.subs.FindByID(note.SubtopicID); err == nil {
		input.SectionTitle = sub.Title
		if topic, err := s.topics.FindByID(sub.TopicID); err == nil {
			input.Topic = topic.Title
		}
	}

	key := fmt.Sprintf("quiz:%d", noteID)

	lookup := func() (string, error) {
		quiz, err := s.quizzes.Latest(noteID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", nil
			}
			return "", err
		}
		return quiz.HTMLContent, nil
	}

	persist := func(html string) error {
		return s.quizzes.Create(&model.Quiz{NoteID: noteID, HTMLContent: html})
	}

	return s.getOrGenerate(ctx, key, KindQuiz, input, regenerate, lookup, persist, emit)
}

// ResolveNoteByTitles 按 主题 > 章节 > 小主题 的标题链定位笔记，
// 任何一级缺失都返回 ErrNodeNotFound。
func (s *TreeService) ResolveNoteByTitles(userID uint, topicTitle, sectionTitle, subtopicTitle string) (*model.Note, error) {
	topic, err := s.topics.FindByTitle(userID, topicTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	section, err := s.subs.FindByTitle(topic.ID, sectionTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	note, err := s.notes.FindByTitle(section.ID, subtopicTitle)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	return note, nil
}

// AskFollowUp 对标题链末端的笔记追问。追问不走缓存也不合流：
// 同一个问题问两次就是两次生成，记录只追加。
// topicChain 形如 "主题 > 章节 > 小主题"。
func (s *TreeService) AskFollowUp(ctx context.Context, userID uint, topicChain, question string, emit EmitFunc) error {
	parts := strings.Split(topicChain, ">")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return util.ErrNodeNotFound
	}

	note, err := s.ResolveNoteByTitles(userID, parts[0], parts[1], parts[2])
	if err != nil {
		return err
	}

	input := PromptInput{
		TopicChain: strings.Join(parts, " > "),
		Question:   question,
	}

	html, err := s.generate(ctx, KindDiveDeeper, input, emit)
	if err != nil {
		return err
	}

	if err := s.dives.Create(&model.DiveDeeper{
		NoteID:      note.ID,
		Question:    question,
		HTMLContent: html,
	}); err != nil {
		monitoring.PersistFailures.WithLabelValues(string(KindDiveDeeper)).Inc()
		logger.Log.Warn("dive deeper not persisted",
			zap.Uint("noteId", note.ID), zap.Error(err))
	}

	if topic, err := s.topics.FindByTitle(userID, parts[0]); err == nil {
		if err := s.topics.BumpProgress(topic.ID, 2); err != nil {
			logger.Log.Warn("bump progress failed", zap.Uint("topicId", topic.ID), zap.Error(err))
		}
	}
	return nil
}

// SubmitQuizScore 对笔记的最新测验按 data-correct 标记判分。
// 返回百分制得分，同时推进所属主题的进度。
func (s *TreeService) SubmitQuizScore(userID uint, noteID uint, selected map[int]int) (correct, total, score int, err error) {
	note, err := s.resolveNote(userID, noteID)
	if err != nil {
		return 0, 0, 0, err
	}

	quiz, err := s.quizzes.Latest(noteID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, 0, util.ErrNodeNotFound
		}
		return 0, 0, 0, err
	}

	correct, total, err = ScoreQuizFragment(quiz.HTMLContent, selected)
	if err != nil {
		return 0, 0, 0, err
	}
	score = correct * 100 / total

	if err := s.quizzes.UpdateScore(quiz.ID, score); err != nil {
		logger.Log.Warn("quiz score not persisted", zap.Uint("quizId", quiz.ID), zap.Error(err))
	}

	if sub, err := s.subs.FindByID(note.SubtopicID); err == nil {
		if err := s.topics.BumpProgress(sub.TopicID, 5); err != nil {
			logger.Log.Warn("bump progress failed", zap.Uint("topicId", sub.TopicID), zap.Error(err))
		}
	}
	return correct, total, score, nil
}

func (s *TreeService) ListTopics(userID uint) ([]model.Topic, error) {
	return s.topics.ListByUser(userID)
}

// GetTopic 越权访问按不存在处理
func (s *TreeService) GetTopic(userID, topicID uint) (*model.Topic, error) {
	topic, err := s.topics.FindByID(topicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	if topic.UserID != userID {
		return nil, util.ErrNodeNotFound
	}
	return topic, nil
}

func (s *TreeService) ListSubtopics(userID, topicID uint) ([]model.Subtopic, error) {
	if _, err := s.GetTopic(userID, topicID); err != nil {
		return nil, err
	}
	return s.subs.ListByTopic(topicID)
}

func (s *TreeService) ListNotes(userID, subtopicID uint) ([]model.Note, error) {
	sub, err := s.subs.FindByID(subtopicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	if _, err := s.GetTopic(userID, sub.TopicID); err != nil {
		return nil, err
	}
	return s.notes.ListBySubtopic(subtopicID)
}

func (s *TreeService) ListDiveDeeper(userID, noteID uint) ([]model.DiveDeeper, error) {
	if _, err := s.resolveNote(userID, noteID); err != nil {
		return nil, err
	}
	return s.dives.ListByNote(noteID)
}

func (s *TreeService) AddStudyTime(userID, topicID uint, minutes int) error {
	if _, err := s.GetTopic(userID, topicID); err != nil {
		return err
	}
	if err := s.topics.AddStudyTime(topicID, minutes); err != nil {
		return err
	}
	return s.topics.TouchLastAccessed(topicID)
}

func (s *TreeService) resolveNote(userID, noteID uint) (*model.Note, error) {
	note, err := s.notes.FindByID(noteID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	sub, err := s.subs.FindByID(note.SubtopicID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrNodeNotFound
		}
		return nil, err
	}
	if _, err := s.GetTopic(userID, sub.TopicID); err != nil {
		return nil, err
	}
	return note, nil
}

// getOrGenerate 一个节点的统一取数链路。
// regenerate 时先废弃缓存并跳过所有查找，强制走一次上游；
// 其余情况按 内存 -> Redis -> 数据库 命中即回，未命中合流生成。
func (s *TreeService) getOrGenerate(
	ctx context.Context,
	key string,
	kind GenerationKind,
	input PromptInput,
	regenerate bool,
	lookup func() (string, error),
	persist func(html string) error,
	emit EmitFunc,
) error {
	if regenerate {
		s.invalidate(ctx, key)
	} else {
		if entry := s.cacheGet(key); entry != nil {
			monitoring.GenerationCounter.WithLabelValues(string(kind), "hit").Inc()
			return emit(entry.HTML)
		}
		if html := s.redisGet(ctx, key); html != "" {
			s.cacheSet(key, html, true)
			monitoring.GenerationCounter.WithLabelValues(string(kind), "hit").Inc()
			return emit(html)
		}
		html, err := lookup()
		if err != nil {
			return err
		}
		if html != "" {
			s.cacheSet(key, html, true)
			s.redisSet(ctx, key, html)
			monitoring.GenerationCounter.WithLabelValues(string(kind), "hit").Inc()
			return emit(html)
		}
	}

	// streamed 只会被领跑者置位：合流的请求拿不到增量，结束后一次性发完整内容
	var streamed bool
	ch := s.flights.DoChan(key, func() (interface{}, error) {
		streamed = true
		html, err := s.generate(ctx, kind, input, emit)
		if err != nil {
			return nil, err
		}

		durable := true
		if err := persist(html); err != nil {
			// 内容照常返回，但只留在进程内缓存里
			durable = false
			monitoring.PersistFailures.WithLabelValues(string(kind)).Inc()
			logger.Log.Warn("generated content not persisted",
				zap.String("key", key), zap.Error(err))
		}
		s.cacheSet(key, html, durable)
		if durable {
			s.redisSet(ctx, key, html)
		}
		return html, nil
	})

	select {
	case <-ctx.Done():
		return util.ErrGenerationAborted
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if !streamed {
			return emit(res.Val.(string))
		}
		return nil
	}
}

// generate 执行一次上游生成并渐进输出。
// 中止（客户端断开或 ctx 取消）的结果一律丢弃。
func (s *TreeService) generate(ctx context.Context, kind GenerationKind, input PromptInput, emit EmitFunc) (string, error) {
	start := time.Now()
	out, errChan := s.ai.Relay(ctx, kind, input)

	asm := newStreamAssembler()
	for delta := range out {
		if safe := asm.Write(delta); safe != "" {
			if err := emit(safe); err != nil {
				monitoring.GenerationCounter.WithLabelValues(string(kind), "aborted").Inc()
				return "", util.ErrGenerationAborted
			}
		}
	}
	if err := <-errChan; err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			monitoring.GenerationCounter.WithLabelValues(string(kind), "aborted").Inc()
			return "", util.ErrGenerationAborted
		}
		monitoring.GenerationCounter.WithLabelValues(string(kind), "failed").Inc()
		return "", err
	}
	if tail := asm.Flush(); tail != "" {
		if err := emit(tail); err != nil {
			monitoring.GenerationCounter.WithLabelValues(string(kind), "aborted").Inc()
			return "", util.ErrGenerationAborted
		}
	}

	html := asm.String()

	// 大纲类内容补上导航定位属性再落库；注解失败不影响返回原始内容
	if kind == KindOutline || kind == KindSubOutline {
		if annotated, err := Annotate(html, kind); err == nil {
			html = annotated
		} else {
			logger.Log.Warn("outline annotation failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}

	monitoring.GenerationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	monitoring.GenerationCounter.WithLabelValues(string(kind), "generated").Inc()
	return html, nil
}

func (s *TreeService) cacheGet(key string) *cacheEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[key]
}

func (s *TreeService) cacheSet(key, html string, durable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = &cacheEntry{HTML: html, Durable: durable}
}

func (s *TreeService) invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	if s.rdb != nil {
		if err := s.rdb.Del(ctx, "content:"+key).Err(); err != nil {
			logger.Log.Warn("redis invalidate failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func (s *TreeService) redisGet(ctx context.Context, key string) string {
	if s.rdb == nil {
		return ""
	}
	val, err := s.rdb.Get(ctx, "content:"+key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return val
}

func (s *TreeService) redisSet(ctx context.Context, key, html string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, "content:"+key, html, contentCacheTTL).Err(); err != nil {
		logger.Log.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}
