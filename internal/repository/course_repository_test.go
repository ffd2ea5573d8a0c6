package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositorySlugExists(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE slug = $1 LIMIT 1")).
		WithArgs("go-101").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.SlugExists(context.Background(), "go-101", "")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySlugExistsNoRows(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM courses WHERE slug = $1 LIMIT 1")).
		WithArgs("unused-slug").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.SlugExists(context.Background(), "unused-slug", "")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryFindDetailByID(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "slug", "name", "description", "price_idr", "start_date", "end_date", "teacher_id", "archived", "created_at", "updated_at", "teacher_name", "lesson_count"}).
		AddRow("crs-1", "go-101", "Go 101", "", int64(250000), time.Now(), time.Now(), "tch-1", false, time.Now(), time.Now(), "Budi", 4)
	mock.ExpectQuery("SELECT c.id, c.slug, c.name").
		WithArgs("crs-1").
		WillReturnRows(rows)

	detail, err := repo.FindDetailByID(context.Background(), "crs-1")
	require.NoError(t, err)
	require.Equal(t, "Budi", detail.TeacherName)
	require.Equal(t, 4, detail.LessonCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
