package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// The capability uses synonym field names freely ("fullName" vs
// "full_name", skills as a map instead of grouped lists). Each mapping
// below is evaluated in order; the first present key wins.
type synonymMapping struct {
	canonical string
	synonyms  []string
}

var topLevelSynonyms = []synonymMapping{
	{"full_name", []string{"fullName", "fullname", "name", "full name"}},
	{"headline", []string{"title", "jobTitle", "job_title", "tagline", "current_title"}},
	{"email", []string{"emailAddress", "email_address", "mail"}},
	{"phone", []string{"phoneNumber", "phone_number", "mobile", "telephone"}},
	{"location", []string{"address", "city"}},
	{"summary", []string{"objective", "about", "profile", "professionalSummary", "professional_summary"}},
	{"experience", []string{"workExperience", "work_experience", "employment", "workHistory", "work_history", "positions", "jobs"}},
	{"education", []string{"educations", "academicBackground", "academic_background", "schools"}},
	{"skills", []string{"skillSet", "skill_set", "technicalSkills", "technical_skills", "competencies"}},
	{"certifications", []string{"certificates", "certs", "licenses"}},
	{"links", []string{"websites", "urls", "profiles", "socialLinks", "social_links"}},
}

var experienceSynonyms = []synonymMapping{
	{"company", []string{"employer", "organization", "companyName", "company_name"}},
	{"title", []string{"position", "role", "jobTitle", "job_title"}},
	{"start_date", []string{"startDate", "start", "from", "dateFrom", "date_from"}},
	{"end_date", []string{"endDate", "end", "to", "until", "dateTo", "date_to"}},
	{"description", []string{"responsibilities", "details", "summary", "bullets", "highlights"}},
}

var educationSynonyms = []synonymMapping{
	{"institution", []string{"school", "university", "college", "institute"}},
	{"degree", []string{"qualification", "degreeName", "degree_name"}},
	{"field", []string{"fieldOfStudy", "field_of_study", "major", "subject"}},
	{"start_date", []string{"startDate", "start", "from"}},
	{"end_date", []string{"endDate", "end", "to", "graduationDate", "graduation_date", "year"}},
}

var certificationSynonyms = []synonymMapping{
	{"name", []string{"title", "certification", "certificate"}},
	{"issuer", []string{"organization", "authority", "issuedBy", "issued_by"}},
	{"date", []string{"issued", "issueDate", "issue_date", "year"}},
}

// Normalize applies the structural transform pass that always runs on
// whatever object a strategy produced: synonym remapping, skills-as-map
// to skills-as-groups, array descriptions joined into prose, and removal
// of keys outside the canonical schema.
func Normalize(raw json.RawMessage) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("normalize: decode: %w", err)
	}

	remapKeys(m, topLevelSynonyms)

	if list, ok := m["experience"].([]any); ok {
		m["experience"] = normalizeEntries(list, experienceSynonyms, "description")
	}
	if list, ok := m["education"].([]any); ok {
		m["education"] = normalizeEntries(list, educationSynonyms, "")
	}
	if list, ok := m["certifications"].([]any); ok {
		m["certifications"] = normalizeEntries(list, certificationSynonyms, "")
	}
	if v, ok := m["skills"]; ok {
		m["skills"] = normalizeSkills(v)
	}
	if v, ok := m["summary"].([]any); ok {
		m["summary"] = joinProse(v)
	}

	// Strict schema friendliness: drop keys outside the canonical set and
	// null/empty leftovers.
	allowed := map[string]struct{}{
		"full_name": {}, "headline": {}, "email": {}, "phone": {}, "location": {},
		"summary": {}, "experience": {}, "education": {}, "skills": {},
		"certifications": {}, "links": {},
	}
	for k, v := range m {
		if _, ok := allowed[k]; !ok {
			delete(m, k)
			continue
		}
		if v == nil {
			delete(m, k)
			continue
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				delete(m, k)
			} else {
				m[k] = s
			}
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("normalize: encode: %w", err)
	}
	return out, nil
}

// remapKeys renames the first present synonym onto its canonical key,
// never overwriting a canonical value that is already there.
func remapKeys(m map[string]any, mappings []synonymMapping) {
	for _, mapping := range mappings {
		for _, syn := range mapping.synonyms {
			v, ok := m[syn]
			if !ok {
				continue
			}
			if _, exists := m[mapping.canonical]; !exists {
				m[mapping.canonical] = v
			}
			delete(m, syn)
		}
	}
}

func normalizeEntries(list []any, mappings []synonymMapping, proseField string) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		remapKeys(entry, mappings)
		if proseField != "" {
			if arr, ok := entry[proseField].([]any); ok {
				entry[proseField] = joinProse(arr)
			}
		}
		// Date values sometimes arrive as numbers (years).
		for _, k := range []string{"start_date", "end_date", "date"} {
			if f, ok := entry[k].(float64); ok {
				entry[k] = fmt.Sprintf("%.0f", f)
			}
		}
		allowed := map[string]struct{}{}
		for _, mapping := range mappings {
			allowed[mapping.canonical] = struct{}{}
		}
		for k, v := range entry {
			if _, ok := allowed[k]; !ok || v == nil {
				delete(entry, k)
			}
		}
		out = append(out, entry)
	}
	return out
}

// normalizeSkills accepts the shapes the capability is known to produce:
// a list of {category, items} groups (canonical), a map of category ->
// items, or a flat list of strings.
func normalizeSkills(v any) []any {
	switch t := v.(type) {
	case []any:
		if len(t) == 0 {
			return t
		}
		if _, ok := t[0].(string); ok {
			items := make([]any, 0, len(t))
			for _, s := range t {
				items = append(items, s)
			}
			return []any{map[string]any{"category": "General", "items": items}}
		}
		out := make([]any, 0, len(t))
		for _, item := range t {
			g, ok := item.(map[string]any)
			if !ok {
				continue
			}
			remapKeys(g, []synonymMapping{
				{"category", []string{"name", "group", "type"}},
				{"items", []string{"skills", "list", "values", "entries"}},
			})
			if _, ok := g["items"]; !ok {
				continue
			}
			cat, _ := g["category"].(string)
			if strings.TrimSpace(cat) == "" {
				cat = "General"
			}
			out = append(out, map[string]any{"category": cat, "items": g["items"]})
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			items, ok := t[k].([]any)
			if !ok {
				continue
			}
			out = append(out, map[string]any{"category": k, "items": items})
		}
		return out
	default:
		return nil
	}
}

// joinProse turns an array-valued text field into sentences.
func joinProse(arr []any) string {
	parts := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, ".") {
			s += "."
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
