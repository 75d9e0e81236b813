package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studypath_backend/internal/model"
	"studypath_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeRelay 回放固定增量，记录上游被调用的次数
type fakeRelay struct {
	mu     sync.Mutex
	calls  int
	deltas []string
	err    error

	started chan struct{} // 首次调用时关闭
	release chan struct{} // 非 nil 时，发完增量后等它关闭
}

func (f *fakeRelay) Relay(ctx context.Context, kind GenerationKind, input PromptInput) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.calls++
	if f.started != nil {
		select {
		case <-f.started:
		default:
			close(f.started)
		}
	}
	f.mu.Unlock()

	out := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errChan)
		for _, d := range f.deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if f.release != nil {
			select {
			case <-f.release:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if f.err != nil {
			errChan <- f.err
		}
	}()
	return out, errChan
}

func (f *fakeRelay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTopics struct {
	mu         sync.Mutex
	seq        uint
	rows       map[uint]*model.Topic
	failWrites bool
}

func newFakeTopics() *fakeTopics {
	return &fakeTopics{rows: make(map[uint]*model.Topic)}
}

func (f *fakeTopics) FindByTitle(userID uint, title string) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if t.UserID == userID && t.Title == title {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTopics) Create(topic *model.Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("db down")
	}
	f.seq++
	topic.ID = f.seq
	cp := *topic
	f.rows[topic.ID] = &cp
	return nil
}

func (f *fakeTopics) FindByID(id uint) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTopics) ListByUser(userID uint) ([]model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Topic
	for _, t := range f.rows {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTopics) UpdateOutline(id uint, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("db down")
	}
	if t, ok := f.rows[id]; ok {
		t.HTMLOutline = html
	}
	return nil
}

func (f *fakeTopics) TouchLastAccessed(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.rows[id]; ok {
		t.LastAccessedAt = time.Now()
	}
	return nil
}

func (f *fakeTopics) BumpProgress(id uint, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.rows[id]; ok {
		t.Progress += delta
		if t.Progress > 100 {
			t.Progress = 100
		}
	}
	return nil
}

func (f *fakeTopics) AddStudyTime(id uint, minutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.rows[id]; ok {
		t.TotalStudyTimeMinutes += minutes
	}
	return nil
}

type fakeSubs struct {
	mu   sync.Mutex
	seq  uint
	rows map[uint]*model.Subtopic
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{rows: make(map[uint]*model.Subtopic)}
}

func (f *fakeSubs) FindByTitle(topicID uint, title string) (*model.Subtopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.TopicID == topicID && s.Title == title {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeSubs) Create(sub *model.Subtopic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sub.ID = f.seq
	cp := *sub
	f.rows[sub.ID] = &cp
	return nil
}

func (f *fakeSubs) FindByID(id uint) (*model.Subtopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubs) ListByTopic(topicID uint) ([]model.Subtopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Subtopic
	for _, s := range f.rows {
		if s.TopicID == topicID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSubs) UpdateContent(id uint, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		s.HTMLContent = html
	}
	return nil
}

func (f *fakeSubs) TouchLastAccessed(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[id]; ok {
		s.LastAccessedAt = time.Now()
	}
	return nil
}

type fakeNotes struct {
	mu   sync.Mutex
	seq  uint
	rows map[uint]*model.Note
}

func newFakeNotes() *fakeNotes {
	return &fakeNotes{rows: make(map[uint]*model.Note)}
}

func (f *fakeNotes) FindByTitle(subtopicID uint, title string) (*model.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.SubtopicID == subtopicID && n.Title == title {
			cp := *n
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeNotes) Create(note *model.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	note.ID = f.seq
	cp := *note
	f.rows[note.ID] = &cp
	return nil
}

func (f *fakeNotes) FindByID(id uint) (*model.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNotes) ListBySubtopic(subtopicID uint) ([]model.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Note
	for _, n := range f.rows {
		if n.SubtopicID == subtopicID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeNotes) UpdateContent(id uint, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.rows[id]; ok {
		n.HTMLContent = html
	}
	return nil
}

type fakeQuizzes struct {
	mu   sync.Mutex
	seq  uint
	rows []*model.Quiz
}

func (f *fakeQuizzes) Latest(noteID uint) (*model.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].NoteID == noteID {
			cp := *f.rows[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeQuizzes) Create(quiz *model.Quiz) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	quiz.ID = f.seq
	cp := *quiz
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeQuizzes) FindByID(id uint) (*model.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.rows {
		if q.ID == id {
			cp := *q
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeQuizzes) UpdateScore(id uint, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.rows {
		if q.ID == id {
			q.LastScore = score
		}
	}
	return nil
}

type fakeDives struct {
	mu   sync.Mutex
	rows []*model.DiveDeeper
}

func (f *fakeDives) Create(dd *model.DiveDeeper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dd.ID = uint(len(f.rows) + 1)
	cp := *dd
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeDives) ListByNote(noteID uint) ([]model.DiveDeeper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.DiveDeeper
	for _, d := range f.rows {
		if d.NoteID == noteID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type treeFixture struct {
	relay   *fakeRelay
	topics  *fakeTopics
	subs    *fakeSubs
	notes   *fakeNotes
	quizzes *fakeQuizzes
	dives   *fakeDives
	svc     *TreeService
}

func newTreeFixture(deltas ...string) *treeFixture {
	f := &treeFixture{
		relay:   &fakeRelay{deltas: deltas},
		topics:  newFakeTopics(),
		subs:    newFakeSubs(),
		notes:   newFakeNotes(),
		quizzes: &fakeQuizzes{},
		dives:   &fakeDives{},
	}
	f.svc = NewTreeService(f.relay, f.topics, f.subs, f.notes, f.quizzes, f.dives, nil)
	return f
}

func collectEmits() (EmitFunc, *string) {
	var buf string
	var mu sync.Mutex
	return func(chunk string) error {
		mu.Lock()
		buf += chunk
		mu.Unlock()
		return nil
	}, &buf
}

func TestOpenTopicGeneratesPersistsAndCaches(t *testing.T) {
	f := newTreeFixture("<div class=\"outline\"><h2>Basics</h2>", "<ul><li>Syntax</li></ul></div>")

	emit, got := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit))
	assert.Equal(t, 1, f.relay.callCount())
	assert.Contains(t, *got, "<h2>Basics</h2>")

	// 落库的是注解后的版本
	topic, err := f.topics.FindByTitle(1, "Go")
	require.NoError(t, err)
	assert.Contains(t, topic.HTMLOutline, `data-title="Basics"`)
	assert.Contains(t, topic.HTMLOutline, `data-parent="Basics"`)

	// 再次打开命中缓存，不再调上游
	emit2, got2 := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit2))
	assert.Equal(t, 1, f.relay.callCount())
	assert.Equal(t, topic.HTMLOutline, *got2)
}

func TestOpenTopicRegenerateUpdatesExistingRow(t *testing.T) {
	f := newTreeFixture("<div><h2>v</h2></div>")

	emit, _ := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit))
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", true, emit))

	assert.Equal(t, 2, f.relay.callCount())
	assert.Len(t, f.topics.rows, 1, "regenerate must update, not insert")
}

func TestOpenTopicStoreHitSkipsUpstream(t *testing.T) {
	f := newTreeFixture("should not be used")
	f.topics.Create(&model.Topic{UserID: 1, Title: "Go", HTMLOutline: "<div>stored</div>"})

	emit, got := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit))
	assert.Equal(t, 0, f.relay.callCount())
	assert.Equal(t, "<div>stored</div>", *got)
}

func TestOpenTopicAbortLeavesNoState(t *testing.T) {
	f := newTreeFixture("<div>partial", "</div>")

	// 第一段之后客户端断开
	var chunks int
	emit := func(chunk string) error {
		chunks++
		if chunks > 1 {
			return errors.New("broken pipe")
		}
		return nil
	}

	err := f.svc.OpenTopic(context.Background(), 1, "Go", false, emit)
	assert.ErrorIs(t, err, util.ErrGenerationAborted)
	assert.Empty(t, f.topics.rows)

	// 中止不留缓存，下一次重新生成
	emit2, _ := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit2))
	assert.Equal(t, 2, f.relay.callCount())
}

func TestOpenTopicServedWhenPersistFails(t *testing.T) {
	f := newTreeFixture("<div>content</div>")
	f.topics.failWrites = true

	emit, got := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit))
	assert.Contains(t, *got, "content")
	assert.Empty(t, f.topics.rows)

	// 内容留在进程内缓存里，之后的请求不再打上游
	emit2, got2 := collectEmits()
	require.NoError(t, f.svc.OpenTopic(context.Background(), 1, "Go", false, emit2))
	assert.Equal(t, 1, f.relay.callCount())
	assert.NotEmpty(t, *got2)
}

func TestConcurrentOpenTopicSharesOneGeneration(t *testing.T) {
	f := newTreeFixture("<div>shared</div>")
	f.relay.started = make(chan struct{})
	f.relay.release = make(chan struct{})

	results := make([]string, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		emit, got := collectEmits()
		errs[0] = f.svc.OpenTopic(context.Background(), 1, "Go", false, emit)
		results[0] = *got
	}()

	<-f.relay.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		emit, got := collectEmits()
		errs[1] = f.svc.OpenTopic(context.Background(), 1, "Go", false, emit)
		results[1] = *got
	}()

	time.Sleep(50 * time.Millisecond)
	close(f.relay.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.relay.callCount(), "concurrent opens must share one upstream call")
	assert.Contains(t, results[0], "shared")
	assert.Contains(t, results[1], "shared")
}

func TestOpenSectionRequiresExistingTopic(t *testing.T) {
	f := newTreeFixture("<div></div>")
	emit, _ := collectEmits()
	err := f.svc.OpenSection(context.Background(), 1, "Go", "Basics", false, emit)
	assert.ErrorIs(t, err, util.ErrNodeNotFound)
}

func TestOpenSectionAndSubtopicChain(t *testing.T) {
	f := newTreeFixture("<div>child</div>")
	f.topics.Create(&model.Topic{UserID: 1, Title: "Go", HTMLOutline: "<div>o</div>"})

	emit, _ := collectEmits()
	require.NoError(t, f.svc.OpenSection(context.Background(), 1, "Go", "Basics", false, emit))
	sub, err := f.subs.FindByTitle(1, "Basics")
	require.NoError(t, err)
	assert.Contains(t, sub.HTMLContent, "child")

	require.NoError(t, f.svc.OpenSubtopic(context.Background(), 1, "Go", "Basics", "Syntax", false, emit))
	note, err := f.notes.FindByTitle(sub.ID, "Syntax")
	require.NoError(t, err)
	assert.Contains(t, note.HTMLContent, "child")
}

func TestGenerateQuizLatestIsCanonical(t *testing.T) {
	f := newTreeFixture("<div class=\"quiz-question\">q</div>")
	f.topics.Create(&model.Topic{UserID: 1, Title: "Go"})
	f.subs.Create(&model.Subtopic{TopicID: 1, Title: "Basics"})
	f.notes.Create(&model.Note{SubtopicID: 1, Title: "Syntax", HTMLContent: "<p>n</p>"})

	emit, _ := collectEmits()
	require.NoError(t, f.svc.GenerateQuiz(context.Background(), 1, 1, false, emit))
	assert.Len(t, f.quizzes.rows, 1)

	// 不要求重出时复用已有测验
	require.NoError(t, f.svc.GenerateQuiz(context.Background(), 1, 1, false, emit))
	assert.Equal(t, 1, f.relay.callCount())
	assert.Len(t, f.quizzes.rows, 1)

	// 重出插入新行
	require.NoError(t, f.svc.GenerateQuiz(context.Background(), 1, 1, true, emit))
	assert.Equal(t, 2, f.relay.callCount())
	assert.Len(t, f.quizzes.rows, 2)
}

func TestGenerateQuizUnknownNote(t *testing.T) {
	f := newTreeFixture("<div></div>")
	emit, _ := collectEmits()
	err := f.svc.GenerateQuiz(context.Background(), 1, 42, false, emit)
	assert.ErrorIs(t, err, util.ErrNodeNotFound)
}

func TestAskFollowUpAppendsAndBumpsProgress(t *testing.T) {
	f := newTreeFixture("<p>because</p>")
	f.topics.Create(&model.Topic{UserID: 1, Title: "Go"})
	f.subs.Create(&model.Subtopic{TopicID: 1, Title: "Basics"})
	f.notes.Create(&model.Note{SubtopicID: 1, Title: "Syntax"})

	emit, got := collectEmits()
	require.NoError(t, f.svc.AskFollowUp(context.Background(), 1, "Go > Basics > Syntax", "why?", emit))
	assert.Contains(t, *got, "because")

	items, err := f.dives.ListByNote(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "why?", items[0].Question)

	// 同一个问题问两次就是两次生成、两条记录
	require.NoError(t, f.svc.AskFollowUp(context.Background(), 1, "Go > Basics > Syntax", "why?", emit))
	assert.Equal(t, 2, f.relay.callCount())
	items, _ = f.dives.ListByNote(1)
	assert.Len(t, items, 2)

	topic, _ := f.topics.FindByID(1)
	assert.Equal(t, 4, topic.Progress)
}

func TestAskFollowUpBadChain(t *testing.T) {
	f := newTreeFixture("<p></p>")
	emit, _ := collectEmits()
	assert.ErrorIs(t, f.svc.AskFollowUp(context.Background(), 1, "Go > Basics", "why?", emit), util.ErrNodeNotFound)
	assert.ErrorIs(t, f.svc.AskFollowUp(context.Background(), 1, "A > B > C", "why?", emit), util.ErrNodeNotFound)
}

func TestSubmitQuizScore(t *testing.T) {
	f := newTreeFixture()
	f.topics.Create(&model.Topic{UserID: 1, Title: "Go"})
	f.subs.Create(&model.Subtopic{TopicID: 1, Title: "Basics"})
	f.notes.Create(&model.Note{SubtopicID: 1, Title: "Syntax"})
	f.quizzes.Create(&model.Quiz{NoteID: 1, HTMLContent: quizFragment})

	correct, total, score, err := f.svc.SubmitQuizScore(1, 1, map[int]int{0: 1, 1: 0})
	require.NoError(t, err)
	assert.Equal(t, 2, correct)
	assert.Equal(t, 2, total)
	assert.Equal(t, 100, score)

	quiz, _ := f.quizzes.FindByID(1)
	assert.Equal(t, 100, quiz.LastScore)

	topic, _ := f.topics.FindByID(1)
	assert.Equal(t, 5, topic.Progress)
}

func TestOwnershipHidesForeignContent(t *testing.T) {
	f := newTreeFixture()
	f.topics.Create(&model.Topic{UserID: 2, Title: "Theirs"})

	_, err := f.svc.GetTopic(1, 1)
	assert.ErrorIs(t, err, util.ErrNodeNotFound)

	_, err = f.svc.ListSubtopics(1, 1)
	assert.ErrorIs(t, err, util.ErrNodeNotFound)
}
