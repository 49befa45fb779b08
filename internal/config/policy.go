package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the operator-tunable redaction policy, loaded from a yaml file
// so categories can change without a redeploy.
type Policy struct {
	// Language is the BCP-47 hint passed to entity recognition.
	Language string `yaml:"language"`
	// PIICategories restricts detection to the listed categories; empty
	// means the service default set.
	PIICategories []string `yaml:"pii_categories"`
	// MinConfidence drops entities scoring below it.
	MinConfidence float64 `yaml:"min_confidence"`
	// OnNoPII is "fail" or "pass" for documents with zero detections.
	OnNoPII string `yaml:"on_no_pii"`
}

func DefaultPolicy() Policy {
	return Policy{
		Language:      "en",
		MinConfidence: 0.5,
		OnNoPII:       "fail",
	}
}

// LoadPolicy reads path, falling back to defaults when the file does not
// exist. A file that exists but fails to parse is an error: silently
// running with default categories would mask a bad rollout.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if p.Language == "" {
		p.Language = "en"
	}
	switch strings.ToLower(p.OnNoPII) {
	case "", "fail":
		p.OnNoPII = "fail"
	case "pass":
		p.OnNoPII = "pass"
	default:
		return Policy{}, fmt.Errorf("policy on_no_pii must be %q or %q, got %q", "fail", "pass", p.OnNoPII)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return Policy{}, fmt.Errorf("policy min_confidence must be within [0, 1], got %v", p.MinConfidence)
	}

	return p, nil
}
