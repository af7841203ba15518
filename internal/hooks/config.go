package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk hook configuration:
//
//	hooks:
//	  PreToolUse:
//	    - matcher: "exec|write_file"
//	      hooks:
//	        - type: command
//	          command: ./guard.sh
//	          timeout: 10
type FileConfig struct {
	Hooks map[Event][]Matcher `yaml:"hooks"`
}

// LoadConfig reads and validates a hook configuration file. A missing file
// yields an empty configuration.
func LoadConfig(path string) (map[Event][]Matcher, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[Event][]Matcher{}, nil
		}
		return nil, fmt.Errorf("read hook config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates YAML hook configuration.
func ParseConfig(data []byte) (map[Event][]Matcher, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse hook config: %w", err)
	}
	if fc.Hooks == nil {
		fc.Hooks = map[Event][]Matcher{}
	}
	if err := Validate(fc.Hooks); err != nil {
		return nil, err
	}
	return fc.Hooks, nil
}

// Validate checks events and handler payloads.
func Validate(m map[Event][]Matcher) error {
	for ev, list := range m {
		if !ev.Valid() {
			return fmt.Errorf("unknown hook event %q", ev)
		}
		for i, matcher := range list {
			for j, h := range matcher.Hooks {
				where := fmt.Sprintf("%s[%d].hooks[%d]", ev, i, j)
				switch h.Kind {
				case KindCommand:
					if h.Command == "" {
						return fmt.Errorf("%s: command hook needs a command", where)
					}
				case KindPrompt, KindAgent:
					if h.Prompt == "" {
						return fmt.Errorf("%s: %s hook needs a prompt", where, h.Kind)
					}
				default:
					return fmt.Errorf("%s: missing hook type", where)
				}
				if h.Timeout < 0 {
					return fmt.Errorf("%s: negative timeout", where)
				}
			}
		}
	}
	return nil
}

const reloadDebounce = 300 * time.Millisecond

// Watch reloads path into p whenever the file changes, until ctx ends. The
// parent directory is watched so editors that replace the file are seen.
// An invalid file is logged and the previous matchers stay active.
func Watch(ctx context.Context, path string, p *Pipeline) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve hook config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		reload := func() {
			m, err := LoadConfig(abs)
			if err != nil {
				slog.Warn("Hook config reload failed", "path", abs, "error", err)
				return
			}
			p.SetMatchers(m)
			slog.Info("Hook config reloaded", "path", abs, "events", len(m))
		}
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("Hook config watcher error", "error", err)
			}
		}
	}()
	return nil
}
