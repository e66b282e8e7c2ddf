// Package resume defines the canonical extracted-resume shape and its schema.
package resume

import "encoding/json"

// Resume is the normalized shape we want from the extraction capability.
type Resume struct {
	FullName       string          `json:"full_name"`
	Headline       string          `json:"headline,omitempty"`
	Email          string          `json:"email,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Location       string          `json:"location,omitempty"`
	Summary        string          `json:"summary,omitempty"`
	Experience     []Experience    `json:"experience,omitempty"`
	Education      []Education     `json:"education,omitempty"`
	Skills         []SkillGroup    `json:"skills,omitempty"`
	Certifications []Certification `json:"certifications,omitempty"`
	Links          []string        `json:"links,omitempty"`
}

// Experience is one work history entry.
type Experience struct {
	Company     string `json:"company"`
	Title       string `json:"title,omitempty"`
	StartDate   string `json:"start_date,omitempty"` // YYYY-MM or YYYY
	EndDate     string `json:"end_date,omitempty"`   // YYYY-MM, YYYY or "present"
	Description string `json:"description,omitempty"`
}

// Education is one education entry.
type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree,omitempty"`
	Field       string `json:"field,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
}

// SkillGroup is a named category of skills.
type SkillGroup struct {
	Category string   `json:"category"`
	Items    []string `json:"items"`
}

// Certification is a professional certification entry.
type Certification struct {
	Name   string `json:"name"`
	Issuer string `json:"issuer,omitempty"`
	Date   string `json:"date,omitempty"`
}

// Preview holds the denormalized fields published alongside the full content.
type Preview struct {
	FullName        string
	Headline        string
	ExperienceCount int
	SkillCount      int
	TopSkills       []string
}

// BuildPreview derives the preview fields from extracted content.
// It tolerates content that carries extra keys; only the canonical
// fields are read.
func BuildPreview(content json.RawMessage) Preview {
	var r Resume
	if err := json.Unmarshal(content, &r); err != nil {
		return Preview{}
	}
	p := Preview{
		FullName:        r.FullName,
		Headline:        r.Headline,
		ExperienceCount: len(r.Experience),
	}
	if p.Headline == "" && len(r.Experience) > 0 {
		p.Headline = r.Experience[0].Title
	}
	for _, g := range r.Skills {
		p.SkillCount += len(g.Items)
		for _, s := range g.Items {
			if len(p.TopSkills) < 5 {
				p.TopSkills = append(p.TopSkills, s)
			}
		}
	}
	return p
}
