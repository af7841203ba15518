package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath expands ~ and anchors relative paths at the call's
// working_dir.
func resolvePath(params map[string]any, path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	if !filepath.IsAbs(path) {
		if wd := GetString(params, WorkingDirKey, ""); wd != "" {
			path = filepath.Join(wd, path)
		}
	}
	return filepath.Clean(path)
}

func isWithin(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

func fileError(op, path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("file not found: %s", path)
	case os.IsPermission(err):
		return fmt.Errorf("permission denied: %s", path)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

// ReadFileTool reads the contents of a file.
type ReadFileTool struct {
	MaxBytes int
}

func NewReadFileTool() *ReadFileTool { return &ReadFileTool{MaxBytes: 256 * 1024} }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Tier() int    { return TierReadOnly }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Relative paths resolve against the working directory."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The path to the file to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	path = resolvePath(params, path)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fileError("read", path, err)
	}
	if t.MaxBytes > 0 && len(content) > t.MaxBytes {
		return string(content[:t.MaxBytes]) + fmt.Sprintf("\n... [truncated, %d bytes total]", len(content)), nil
	}
	return string(content), nil
}

// WriteFileTool writes content to a file, optionally confined to a root.
type WriteFileTool struct {
	Root string
}

func NewWriteFileTool(root string) *WriteFileTool { return &WriteFileTool{Root: root} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Tier() int    { return TierWrite }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "The path to the file to write"},
			"content": map[string]any{"type": "string", "description": "The content to write to the file"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	content := GetString(params, "content", "")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	path = resolvePath(params, path)
	if t.Root != "" && !isWithin(t.Root, path) {
		return "", fmt.Errorf("path outside workspace: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fileError("mkdir", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fileError("write", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces one exact occurrence of text in a file.
type EditFileTool struct {
	Root string
}

func NewEditFileTool(root string) *EditFileTool { return &EditFileTool{Root: root} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Tier() int    { return TierWrite }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. old_text must occur exactly once."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":     map[string]any{"type": "string", "description": "The path to the file to edit"},
			"old_text": map[string]any{"type": "string", "description": "The exact text to replace"},
			"new_text": map[string]any{"type": "string", "description": "The replacement text"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", "")
	oldText := GetString(params, "old_text", "")
	newText := GetString(params, "new_text", "")
	if path == "" || oldText == "" {
		return "", fmt.Errorf("path and old_text are required")
	}
	path = resolvePath(params, path)
	if t.Root != "" && !isWithin(t.Root, path) {
		return "", fmt.Errorf("path outside workspace: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fileError("read", path, err)
	}
	content := string(data)
	switch n := strings.Count(content, oldText); n {
	case 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case 1:
	default:
		return "", fmt.Errorf("old_text occurs %d times in %s; add context to make it unique", n, path)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fileError("write", path, err)
	}
	return fmt.Sprintf("Edited %s", path), nil
}

// ListDirTool lists the entries of a directory.
type ListDirTool struct{}

func NewListDirTool() *ListDirTool { return &ListDirTool{} }

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Tier() int    { return TierReadOnly }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory. Defaults to the working directory."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The directory to list"},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path := GetString(params, "path", ".")
	path = resolvePath(params, path)
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fileError("list", path, err)
	}
	if len(entries) == 0 {
		return "(empty directory)", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}
