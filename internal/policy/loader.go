package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRaw читает YAML файл guardrails в нетипизированную map.
// Файл может быть плоским документом guardrails, содержать корень
// "guardrails:" или набор профилей "profiles:". Пустой profile = "default".
func LoadRaw(path, profile string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardrails file: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse guardrails yaml: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	if profiles, ok := lookup(doc, "profiles"); ok {
		set, ok := asObject(profiles)
		if !ok {
			return nil, fmt.Errorf("profiles must be a map of name -> guardrails")
		}

		if profile == "" {
			profile = "default"
		}

		selected, ok := set[profile]
		if !ok {
			return nil, fmt.Errorf("guardrail profile %s not found", profile)
		}
		obj, ok := asObject(selected)
		if !ok {
			return nil, fmt.Errorf("guardrail profile %s must be a map", profile)
		}
		return obj, nil
	}

	if root, ok := lookup(doc, "guardrails"); ok {
		obj, ok := asObject(root)
		if !ok {
			return nil, fmt.Errorf("guardrails must be a map")
		}
		return obj, nil
	}

	return doc, nil
}

// LoadFile читает и валидирует guardrails из YAML
func LoadFile(path, profile string) (*Guardrails, error) {
	raw, err := LoadRaw(path, profile)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
