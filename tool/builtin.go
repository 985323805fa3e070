package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MemoryBank is the tiny in-process key/value store backing the
// store_memory / search_memory builtin tools.
type MemoryBank struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryBank creates an empty memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{entries: make(map[string]string)}
}

// Store saves content under key, replacing any previous value.
func (b *MemoryBank) Store(key, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = content
}

// Search returns all entries whose key or content contains query.
func (b *MemoryBank) Search(query string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	results := make(map[string]string)
	for k, v := range b.entries {
		if query == "" || strings.Contains(k, query) || strings.Contains(v, query) {
			results[k] = v
		}
	}
	return results
}

// Builtins returns the system tool set registered with the service registry's
// system pseudo-service: file access, command execution, plan drafting and
// the shared memory bank.
func Builtins(bank *MemoryBank) []Tool {
	if bank == nil {
		bank = NewMemoryBank()
	}

	return []Tool{
		NewFunctionTool(
			"read_file",
			"Read the contents of a file",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "File path to read"},
				},
				"required": []string{"path"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				data, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", path, err)
				}
				return string(data), nil
			},
		),
		NewFunctionTool(
			"write_file",
			"Write content to a file, creating parent directories as needed",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "File path to write"},
					"content": map[string]any{"type": "string", "description": "Content to write"},
				},
				"required": []string{"path", "content"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return nil, fmt.Errorf("write %s: %w", path, err)
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return nil, fmt.Errorf("write %s: %w", path, err)
				}
				return map[string]any{"path": path, "bytes": len(content)}, nil
			},
		),
		NewFunctionTool(
			"list_directory",
			"List the entries of a directory",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "Directory path to list"},
				},
				"required": []string{"path"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				path, _ := args["path"].(string)
				entries, err := os.ReadDir(path)
				if err != nil {
					return nil, fmt.Errorf("list %s: %w", path, err)
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				return names, nil
			},
		),
		NewFunctionTool(
			"execute_command",
			"Execute a shell command and return its combined output",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "description": "Command line to run"},
					"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 30)"},
				},
				"required": []string{"command"},
			},
			func(ctx context.Context, args map[string]any) (any, error) {
				command, _ := args["command"].(string)
				timeout := 30 * time.Second
				if secs, ok := args["timeout"].(float64); ok && secs > 0 {
					timeout = time.Duration(secs) * time.Second
				}
				cmdCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				out, err := exec.CommandContext(cmdCtx, "sh", "-c", command).CombinedOutput()
				if err != nil {
					return nil, fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
				}
				return string(out), nil
			},
		),
		NewFunctionTool(
			"store_memory",
			"Store content in the shared memory bank under a key",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":     map[string]any{"type": "string", "description": "Memory key"},
					"content": map[string]any{"type": "string", "description": "Content to remember"},
				},
				"required": []string{"key", "content"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				key, _ := args["key"].(string)
				content, _ := args["content"].(string)
				bank.Store(key, content)
				return map[string]any{"key": key, "stored": true}, nil
			},
		),
		NewFunctionTool(
			"search_memory",
			"Search the shared memory bank by substring",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Substring to search for"},
				},
				"required": []string{"query"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				query, _ := args["query"].(string)
				return bank.Search(query), nil
			},
		),
		NewFunctionTool(
			"create_plan",
			"Split a goal description into an ordered list of plan steps",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"goal": map[string]any{"type": "string", "description": "Goal to plan for"},
				},
				"required": []string{"goal"},
			},
			func(_ context.Context, args map[string]any) (any, error) {
				goal, _ := args["goal"].(string)
				steps := make([]map[string]any, 0)
				for i, part := range strings.Split(goal, ";") {
					part = strings.TrimSpace(part)
					if part == "" {
						continue
					}
					steps = append(steps, map[string]any{"step": i + 1, "description": part})
				}
				if len(steps) == 0 {
					steps = append(steps, map[string]any{"step": 1, "description": goal})
				}
				return map[string]any{"goal": goal, "steps": steps}, nil
			},
		),
	}
}
