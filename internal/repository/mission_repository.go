package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kelasku/kelasku-api/internal/models"
)

// MissionRepository handles persistence of missions.
type MissionRepository struct {
	db *sqlx.DB
}

// NewMissionRepository constructs the repository.
func NewMissionRepository(db *sqlx.DB) *MissionRepository {
	return &MissionRepository{db: db}
}

// FindByID returns a mission by its ID.
func (r *MissionRepository) FindByID(ctx context.Context, id string) (*models.Mission, error) {
	const query = `SELECT id, lesson_id, title, instructions, max_score, deadline, created_at, updated_at
        FROM missions WHERE id = $1`
	var mission models.Mission
	if err := r.db.GetContext(ctx, &mission, query, id); err != nil {
		return nil, err
	}
	return &mission, nil
}

// FindByLessonID returns the mission attached to a lesson, if any.
func (r *MissionRepository) FindByLessonID(ctx context.Context, lessonID string) (*models.Mission, error) {
	const query = `SELECT id, lesson_id, title, instructions, max_score, deadline, created_at, updated_at
        FROM missions WHERE lesson_id = $1`
	var mission models.Mission
	if err := r.db.GetContext(ctx, &mission, query, lessonID); err != nil {
		return nil, err
	}
	return &mission, nil
}

// Create persists a new mission record.
func (r *MissionRepository) Create(ctx context.Context, mission *models.Mission) error {
	if mission.ID == "" {
		mission.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	mission.CreatedAt = now
	mission.UpdatedAt = now
	const query = `INSERT INTO missions (id, lesson_id, title, instructions, max_score, deadline, created_at, updated_at)
        VALUES (:id, :lesson_id, :title, :instructions, :max_score, :deadline, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mission); err != nil {
		return fmt.Errorf("create mission: %w", err)
	}
	return nil
}

// Update persists editable mission fields. Reconciliation is not re-run here.
func (r *MissionRepository) Update(ctx context.Context, mission *models.Mission) error {
	mission.UpdatedAt = time.Now().UTC()
	const query = `UPDATE missions SET title = :title, instructions = :instructions, max_score = :max_score,
        deadline = :deadline, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, mission); err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	return nil
}
