package resume

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"resumeflow/internal/entity"
)

// Artifact builds the owner-keyed published record from extracted
// content, deriving the denormalized preview fields.
func Artifact(ownerID string, content json.RawMessage) *entity.PublishedArtifact {
	p := BuildPreview(content)
	return &entity.PublishedArtifact{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Content:         content,
		FullName:        p.FullName,
		Headline:        p.Headline,
		ExperienceCount: p.ExperienceCount,
		SkillCount:      p.SkillCount,
		TopSkills:       p.TopSkills,
		PublishedAt:     time.Now().UTC(),
	}
}
