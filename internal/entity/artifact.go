package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PublishedArtifact is the owner-keyed record of the latest successfully
// extracted resume, plus denormalized preview fields for listing pages.
// Exactly one row per owner, enforced by a uniqueness constraint.
type PublishedArtifact struct {
	ID              uuid.UUID       `json:"id"`
	OwnerID         string          `json:"owner_id"`
	Content         json.RawMessage `json:"content"`
	FullName        string          `json:"full_name,omitempty"`
	Headline        string          `json:"headline,omitempty"`
	ExperienceCount int             `json:"experience_count"`
	SkillCount      int             `json:"skill_count"`
	TopSkills       []string        `json:"top_skills,omitempty"`
	PublishedAt     time.Time       `json:"published_at"`
}
