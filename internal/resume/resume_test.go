package resume

import (
	"encoding/json"
	"testing"
)

func TestValidateAcceptsCanonicalResume(t *testing.T) {
	doc := []byte(`{
		"full_name": "Ada Lovelace",
		"headline": "Analytical Engine Programmer",
		"experience": [{"company": "Babbage & Co", "title": "Engineer"}],
		"skills": [{"category": "Mathematics", "items": ["calculus", "algorithms"]}]
	}`)
	problems, err := Validate(doc)
	if err != nil {
		t.Fatalf("valid resume rejected: %v (problems: %v)", err, problems)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	doc := []byte(`{"headline": "No name here", "experience": [{"title": "missing company"}]}`)
	problems, err := Validate(doc)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if len(problems) == 0 {
		t.Fatal("expected flattened problem list for feedback retry")
	}
}

func TestValidateRejectsUnknownKeys(t *testing.T) {
	doc := []byte(`{"full_name": "Ada", "unexpected_field": true}`)
	if _, err := Validate(doc); err == nil {
		t.Fatal("additionalProperties must be rejected")
	}
}

func TestBuildPreview(t *testing.T) {
	content := json.RawMessage(`{
		"full_name": "Ada Lovelace",
		"experience": [
			{"company": "Babbage & Co", "title": "Engineer"},
			{"company": "Royal Society", "title": "Fellow"}
		],
		"skills": [
			{"category": "Math", "items": ["calculus", "number theory", "logic"]},
			{"category": "Languages", "items": ["french", "italian", "latin"]}
		]
	}`)
	p := BuildPreview(content)
	if p.FullName != "Ada Lovelace" {
		t.Errorf("full name = %q", p.FullName)
	}
	if p.Headline != "Engineer" {
		t.Errorf("headline should fall back to first title, got %q", p.Headline)
	}
	if p.ExperienceCount != 2 {
		t.Errorf("experience count = %d", p.ExperienceCount)
	}
	if p.SkillCount != 6 {
		t.Errorf("skill count = %d", p.SkillCount)
	}
	if len(p.TopSkills) != 5 {
		t.Errorf("top skills capped at 5, got %d", len(p.TopSkills))
	}
}

func TestBuildPreviewMalformedContent(t *testing.T) {
	p := BuildPreview(json.RawMessage(`not json`))
	if p.FullName != "" || p.SkillCount != 0 {
		t.Errorf("malformed content should yield empty preview: %+v", p)
	}
}
