package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kelasku/kelasku-api/internal/models"
)

func newReviewRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReviewRepositoryCreateInserts(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	mock.ExpectExec("INSERT INTO reviews").
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Create(context.Background(), &models.Review{
		MissionID:      "mis-1",
		SubscriptionID: "sub-1",
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryCreateSkipsExisting(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	// ON CONFLICT DO NOTHING reports zero affected rows on a duplicate pair.
	mock.ExpectExec("INSERT INTO reviews").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Create(context.Background(), &models.Review{
		MissionID:      "mis-1",
		SubscriptionID: "sub-1",
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryUpdateGrade(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	feedback := "solid work"
	gradedAt := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reviews SET score = $2, feedback = $3, graded_at = $4, updated_at = $4 WHERE id = $1")).
		WithArgs("rev-1", 85, feedback, gradedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateGrade(context.Background(), "rev-1", 85, &feedback, gradedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryUpdateExtension(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	extension := time.Now().UTC().Add(48 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reviews SET extension = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("rev-1", extension, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateExtension(context.Background(), "rev-1", &extension))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReviewRepositoryListByMission(t *testing.T) {
	db, mock, cleanup := newReviewRepoMock(t)
	defer cleanup()
	repo := NewReviewRepository(db)

	rows := sqlmock.NewRows([]string{"id", "mission_id", "subscription_id", "extension", "score", "feedback", "graded_at", "created_at", "updated_at", "student_id", "student_name", "student_email"}).
		AddRow("rev-1", "mis-1", "sub-1", nil, nil, nil, nil, time.Now(), time.Now(), "stu-1", "Ana", "ana@example.com")
	mock.ExpectQuery("SELECT r.id, r.mission_id").
		WithArgs("mis-1").
		WillReturnRows(rows)

	reviews, err := repo.ListByMission(context.Background(), "mis-1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	require.Equal(t, "Ana", reviews[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}
