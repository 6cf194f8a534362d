package config

// schemaDocument returns the JSON Schema (as a plain Go value, consumable by
// gojsonschema.NewGoLoader) that a configuration document must satisfy
// before it is unmarshalled into Config. It only constrains the fields
// whose shape a typo could silently corrupt — reporter kind and repository
// checkout mode are both closed enumerations in the pipeline's external
// interface.
func schemaDocument() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"appChannel": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"dev", "testing", "production"},
			},
			"beforeAfterRatio": map[string]interface{}{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"reporters": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"kind": map[string]interface{}{
							"type": "string",
							"enum": []interface{}{"platform", "email", "backend", "build_error"},
						},
					},
					"required": []interface{}{"kind"},
				},
			},
			"repositories": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"slug": map[string]interface{}{"type": "string", "minLength": 1},
						"checkoutMode": map[string]interface{}{
							"type": "string",
							"enum": []interface{}{"robust", "batch", "default"},
						},
					},
					"required": []interface{}{"slug"},
				},
			},
			"backend": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"driver": map[string]interface{}{
						"type": "string",
						"enum": []interface{}{"sqlite", "postgres"},
					},
				},
			},
		},
	}
}
