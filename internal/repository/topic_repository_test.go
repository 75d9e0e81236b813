package repository

import (
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"studypath_backend/internal/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func TestTopicFindByTitleMostRecentWins(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	// 库里不保证标题唯一，查询必须带最近访问优先的排序
	mock.ExpectQuery("SELECT .+ FROM `topics` WHERE user_id = \\? AND title = \\?.+ORDER BY last_accessed_at DESC, created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "html_outline"}).
			AddRow(7, 1, "Go", "<div>newest</div>"))

	topic, err := repo.FindByTitle(1, "Go")
	require.NoError(t, err)
	assert.Equal(t, uint(7), topic.ID)
	assert.Equal(t, "<div>newest</div>", topic.HTMLOutline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicFindByTitleNotFound(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	mock.ExpectQuery("SELECT .+ FROM `topics`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByTitle(1, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTopicCreate(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `topics`").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	topic := &model.Topic{UserID: 1, Title: "Go", HTMLOutline: "<div>o</div>"}
	require.NoError(t, repo.Create(topic))
	assert.Equal(t, uint(3), topic.ID)
	assert.False(t, topic.LastAccessedAt.IsZero(), "create must stamp last_accessed_at")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicUpdateOutline(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `topics` SET `html_outline`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateOutline(7, "<div>v2</div>"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicBumpProgressIsCapped(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	// 进度封顶在 SQL 里完成，并发累加也不会超过 100
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `topics` SET `progress`=LEAST\\(progress \\+ \\?, 100\\)").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.BumpProgress(7, 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicAddStudyTime(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewTopicRepository(gdb)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `topics` SET `total_study_time_minutes`=total_study_time_minutes \\+ \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.AddStudyTime(7, 25))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNoteFindByTitleMostRecentWins(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewNoteRepository(gdb)

	mock.ExpectQuery("SELECT .+ FROM `notes` WHERE subtopic_id = \\? AND title = \\?.+ORDER BY updated_at DESC, created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subtopic_id", "title", "html_content"}).
			AddRow(4, 2, "Channels", "<p>n</p>"))

	note, err := repo.FindByTitle(2, "Channels")
	require.NoError(t, err)
	assert.Equal(t, uint(4), note.ID)
}

func TestQuizLatestIsCanonical(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewQuizRepository(gdb)

	mock.ExpectQuery("SELECT .+ FROM `quizzes` WHERE note_id = \\?.+ORDER BY created_at DESC").
		WillReturnRows(sqlmock.NewRows([]string{"id", "note_id", "html_content", "last_score"}).
			AddRow(9, 4, "<div>quiz</div>", 80))

	quiz, err := repo.Latest(4)
	require.NoError(t, err)
	assert.Equal(t, uint(9), quiz.ID)
	assert.Equal(t, 80, quiz.LastScore)
}
