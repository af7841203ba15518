// Package skills loads slash-command skills from SKILL.md files.
//
// A skill lives in <dir>/<name>/SKILL.md. The YAML frontmatter carries
// name, description and an optional allowed-tools list; the body is the
// prompt template.
package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KafClaw/agentcore/internal/agent"
	"gopkg.in/yaml.v3"
)

const skillFile = "SKILL.md"

type frontmatter struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	AllowedTools any    `yaml:"allowed-tools"`
}

// LoadDir reads every skill under dir. A missing dir yields no skills.
// Invalid skills are logged and skipped so one bad file does not hide the
// rest.
func LoadDir(dir string) ([]agent.Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}
	var out []agent.Skill
	seen := map[string]bool{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), skillFile)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Skill unreadable", "path", path, "error", err)
			}
			continue
		}
		s, err := Parse(data, e.Name())
		if err != nil {
			slog.Warn("Skill skipped", "path", path, "error", err)
			continue
		}
		if seen[s.Name] {
			slog.Warn("Duplicate skill name, keeping first", "name", s.Name, "path", path)
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Parse decodes one SKILL.md. fallbackName is used when the frontmatter
// has no name.
func Parse(data []byte, fallbackName string) (agent.Skill, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	var fm frontmatter
	body := text
	if strings.HasPrefix(text, "---\n") {
		end := strings.Index(text[4:], "\n---")
		if end < 0 {
			return agent.Skill{}, errors.New("unterminated frontmatter")
		}
		if err := yaml.Unmarshal([]byte(text[4:4+end]), &fm); err != nil {
			return agent.Skill{}, fmt.Errorf("parse frontmatter: %w", err)
		}
		body = text[4+end+4:]
	}

	name := sanitizeName(fm.Name)
	if name == "" {
		name = sanitizeName(fallbackName)
	}
	if name == "" {
		return agent.Skill{}, errors.New("skill has no name")
	}
	prompt := strings.TrimSpace(body)
	if prompt == "" {
		return agent.Skill{}, fmt.Errorf("skill %s has an empty prompt", name)
	}
	tools, err := toolList(fm.AllowedTools)
	if err != nil {
		return agent.Skill{}, fmt.Errorf("skill %s: %w", name, err)
	}
	return agent.Skill{
		Name:         name,
		Description:  strings.TrimSpace(fm.Description),
		Prompt:       prompt,
		AllowedTools: tools,
	}, nil
}

// toolList accepts a YAML list or a comma-separated string. Absent means
// no restriction (nil); an explicit empty list allows no tools.
func toolList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		out := []string{}
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("allowed-tools entries must be strings, got %T", item)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("allowed-tools must be a list or string, got %T", v)
	}
}

func sanitizeName(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, " ", "-")
	var out strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			out.WriteRune(r)
		}
	}
	return strings.Trim(out.String(), "-.")
}
