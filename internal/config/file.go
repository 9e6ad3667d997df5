package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML overlay. Values may reference environment
// variables with ${VAR} or $VAR.
type FileConfig struct {
	Ranker RankerLimits `yaml:"ranker"`
	Hooks  HooksConfig  `yaml:"hooks"`
}

// RankerLimits overrides context-ranker caps. Zero keeps the built-in default.
type RankerLimits struct {
	Siblings           int `yaml:"siblings"`
	SameType           int `yaml:"same_type"`
	CrossSession       int `yaml:"cross_session"`
	Tagged             int `yaml:"tagged"`
	Fallback           int `yaml:"fallback"`
	PromptTasks        int `yaml:"prompt_tasks"`
	PromptDecisions    int `yaml:"prompt_decisions"`
	PromptCompleted    int `yaml:"prompt_completed"`
	DescriptionExcerpt int `yaml:"description_excerpt"`
	PlanExcerpt        int `yaml:"plan_excerpt"`
}

// HooksConfig tunes event dispatch.
type HooksConfig struct {
	// EditTools lists tool names whose PostToolUse events record file changes.
	EditTools []string `yaml:"edit_tools"`
}

// LoadFile reads and parses a YAML overlay, expanding env vars.
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	fc, err := LoadFileBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return fc, nil
}

// LoadFileBytes parses a YAML overlay from bytes.
func LoadFileBytes(data []byte) (*FileConfig, error) {
	expanded := expandEnvVars(string(data))
	var fc FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	r := fc.Ranker
	for name, v := range map[string]int{
		"siblings":            r.Siblings,
		"same_type":           r.SameType,
		"cross_session":       r.CrossSession,
		"tagged":              r.Tagged,
		"fallback":            r.Fallback,
		"prompt_tasks":        r.PromptTasks,
		"prompt_decisions":    r.PromptDecisions,
		"prompt_completed":    r.PromptCompleted,
		"description_excerpt": r.DescriptionExcerpt,
		"plan_excerpt":        r.PlanExcerpt,
	} {
		if v < 0 {
			return fmt.Errorf("ranker.%s must not be negative", name)
		}
	}
	return nil
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the environment value.
// Missing vars become empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
