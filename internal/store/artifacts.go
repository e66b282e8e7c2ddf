package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertArtifactTx(ctx context.Context, ex execer, a *entity.PublishedArtifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = time.Now().UTC()
	}
	topSkills, err := json.Marshal(a.TopSkills)
	if err != nil {
		return fmt.Errorf("marshal top skills: %w", err)
	}

	query := `
		INSERT INTO published_artifacts
			(id, owner_id, content, full_name, headline, experience_count, skill_count, top_skills, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (owner_id) DO UPDATE SET
			content = EXCLUDED.content,
			full_name = EXCLUDED.full_name,
			headline = EXCLUDED.headline,
			experience_count = EXCLUDED.experience_count,
			skill_count = EXCLUDED.skill_count,
			top_skills = EXCLUDED.top_skills,
			published_at = EXCLUDED.published_at
	`
	_, err = ex.ExecContext(ctx, query,
		a.ID, a.OwnerID, []byte(a.Content), a.FullName, a.Headline,
		a.ExperienceCount, a.SkillCount, topSkills, a.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert artifact for %s: %w", a.OwnerID, err)
	}
	return nil
}

// UpsertArtifact publishes or replaces the owner's artifact.
func (s *Store) UpsertArtifact(ctx context.Context, a *entity.PublishedArtifact) error {
	return upsertArtifactTx(ctx, s.db, a)
}

func (s *Store) GetArtifact(ctx context.Context, ownerID string) (*entity.PublishedArtifact, error) {
	query := `
		SELECT id, owner_id, content, full_name, headline,
			experience_count, skill_count, top_skills, published_at
		FROM published_artifacts
		WHERE owner_id = $1
	`
	var (
		a         entity.PublishedArtifact
		content   []byte
		topSkills []byte
	)
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(
		&a.ID, &a.OwnerID, &content, &a.FullName, &a.Headline,
		&a.ExperienceCount, &a.SkillCount, &topSkills, &a.PublishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact for %s: %w", ownerID, err)
	}
	a.Content = content
	if len(topSkills) > 0 {
		if err := json.Unmarshal(topSkills, &a.TopSkills); err != nil {
			return nil, fmt.Errorf("decode top skills for %s: %w", ownerID, err)
		}
	}
	return &a, nil
}
