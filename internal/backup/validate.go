package backup

import "fmt"

// validateTree checks the shape of a decoded backup before it is unmarshaled
// into a schema.Document, so that missing or mistyped fields are reported
// instead of silently becoming zero values.
func validateTree(tree any) error {
	root, ok := tree.(map[string]any)
	if !ok {
		return fmt.Errorf("backup must be an object")
	}
	if err := requireString(root, "version", ""); err != nil {
		return err
	}
	if err := requireString(root, "timestamp", ""); err != nil {
		return err
	}

	settings, ok := root["settings"].(map[string]any)
	if !ok {
		return fmt.Errorf("settings must be an object")
	}
	for _, field := range []string{"pomodoroDuration", "shortBreakDuration", "longBreakDuration"} {
		if err := requireNumber(settings, field, "settings."); err != nil {
			return err
		}
	}
	for _, field := range []string{"autoStartBreak", "autoStartPomodoro"} {
		if _, ok := settings[field].(bool); !ok {
			return fmt.Errorf("settings.%s must be a boolean", field)
		}
	}
	if v, present := settings["lastUpdated"]; present && v != nil {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("settings.lastUpdated must be a string")
		}
	}

	stats, ok := root["stats"].(map[string]any)
	if !ok {
		return fmt.Errorf("stats must be an object")
	}
	completed, ok := stats["completed"].([]any)
	if !ok {
		return fmt.Errorf("stats.completed must be a list")
	}
	for i, item := range completed {
		entry, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("stats.completed[%d] must be an object", i)
		}
		prefix := fmt.Sprintf("stats.completed[%d].", i)
		if err := requireString(entry, "timestamp", prefix); err != nil {
			return err
		}
		if err := requireNumber(entry, "pomodoroDuration", prefix); err != nil {
			return err
		}
	}
	return nil
}

func requireString(obj map[string]any, field, prefix string) error {
	if _, ok := obj[field].(string); !ok {
		return fmt.Errorf("%s%s must be a string", prefix, field)
	}
	return nil
}

func requireNumber(obj map[string]any, field, prefix string) error {
	if _, ok := obj[field].(float64); !ok {
		return fmt.Errorf("%s%s must be a number", prefix, field)
	}
	return nil
}
