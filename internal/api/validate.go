package api

import (
	"fmt"

	"github.com/applybot/jobtracker/internal/job"
)

// Top-level payload keys with a known shape. Anything else is stored untouched.
var objectKeys = []string{"personals", "personal", "search_filters", "filters", "parameters"}

func validatePayload(doc job.Document) error {
	for _, key := range objectKeys {
		if v, ok := doc[key]; ok && v != nil {
			if _, isObj := v.(map[string]any); !isObj {
				return fmt.Errorf("%s must be an object", key)
			}
		}
	}
	if v, ok := doc["questions"]; ok && v != nil {
		switch v.(type) {
		case map[string]any, []any:
		default:
			return fmt.Errorf("questions must be an object or a list")
		}
	}
	return nil
}

// takeRestart removes the restart flag from doc and reports its value.
func takeRestart(doc job.Document) (bool, error) {
	v, ok := doc["restart"]
	if !ok {
		return false, nil
	}
	delete(doc, "restart")
	restart, isBool := v.(bool)
	if !isBool {
		return false, fmt.Errorf("restart must be a boolean")
	}
	return restart, nil
}
