package resume

// JSONSchema returns the resume JSON-Schema (draft 2020-12 subset) as a
// generic map. It is passed to the extraction capability as a structured
// output constraint and also used locally to validate whatever comes back.
func JSONSchema() map[string]any {
	dateProp := map[string]any{"type": "string"}

	experience := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"company":     map[string]any{"type": "string", "minLength": 1},
				"title":       map[string]any{"type": "string"},
				"start_date":  dateProp,
				"end_date":    dateProp,
				"description": map[string]any{"type": "string"},
			},
			"required": []string{"company"},
		},
	}

	education := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"institution": map[string]any{"type": "string", "minLength": 1},
				"degree":      map[string]any{"type": "string"},
				"field":       map[string]any{"type": "string"},
				"start_date":  dateProp,
				"end_date":    dateProp,
			},
			"required": []string{"institution"},
		},
	}

	skills := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"category": map[string]any{"type": "string", "minLength": 1},
				"items": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
			"required": []string{"category", "items"},
		},
	}

	certifications := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"name":   map[string]any{"type": "string", "minLength": 1},
				"issuer": map[string]any{"type": "string"},
				"date":   dateProp,
			},
			"required": []string{"name"},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"full_name":      map[string]any{"type": "string", "minLength": 1},
			"headline":       map[string]any{"type": "string"},
			"email":          map[string]any{"type": "string"},
			"phone":          map[string]any{"type": "string"},
			"location":       map[string]any{"type": "string"},
			"summary":        map[string]any{"type": "string"},
			"experience":     experience,
			"education":      education,
			"skills":         skills,
			"certifications": certifications,
			"links": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"full_name"},
	}
}
