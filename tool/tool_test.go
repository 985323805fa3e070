package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var _ Tool = (*FunctionTool)(nil)

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		// Use interface slice to match the JSON-decoded schema shape
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ context.Context, _ map[string]any) (any, error) {
		return 0, nil
	})

	_, err := tTool.Call(context.Background(), map[string]any{})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	failing := NewFunctionTool("fail", "Always fails", params, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := failing.Call(context.Background(), map[string]any{})
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionTool_CustomToolErrorForwarded(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	custom := NewFunctionTool("custom", "Custom error", params, func(_ context.Context, _ map[string]any) (any, error) {
		return nil, NewToolError("custom", "quota exceeded", "QUOTA")
	})

	_, err := custom.Call(context.Background(), map[string]any{})
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "QUOTA", toolErr.Code)
}

func TestMemoryBank(t *testing.T) {
	bank := NewMemoryBank()
	bank.Store("greeting", "hello world")
	bank.Store("farewell", "goodbye")

	hits := bank.Search("hello")
	assert.Len(t, hits, 1)
	assert.Equal(t, "hello world", hits["greeting"])

	all := bank.Search("")
	assert.Len(t, all, 2)
}

func TestBuiltinsFileRoundTrip(t *testing.T) {
	tools := Builtins(nil)
	byName := make(map[string]Tool, len(tools))
	for _, tl := range tools {
		byName[tl.Name()] = tl
	}
	require.Contains(t, byName, "read_file")
	require.Contains(t, byName, "write_file")
	require.Contains(t, byName, "list_directory")

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")

	_, err := byName["write_file"].Call(context.Background(), map[string]any{"path": path, "content": "routed"})
	require.NoError(t, err)

	out, err := byName["read_file"].Call(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "routed", out)

	listing, err := byName["list_directory"].Call(context.Background(), map[string]any{"path": dir})
	require.NoError(t, err)
	assert.Contains(t, listing.([]string), "note.txt")
}

func TestBuiltinsMemoryTools(t *testing.T) {
	bank := NewMemoryBank()
	tools := Builtins(bank)
	byName := make(map[string]Tool, len(tools))
	for _, tl := range tools {
		byName[tl.Name()] = tl
	}

	_, err := byName["store_memory"].Call(context.Background(), map[string]any{"key": "k1", "content": "routing notes"})
	require.NoError(t, err)

	out, err := byName["search_memory"].Call(context.Background(), map[string]any{"query": "routing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "routing notes"}, out)
}

func TestBuiltinReadFileMissing(t *testing.T) {
	tools := Builtins(nil)
	var readFile Tool
	for _, tl := range tools {
		if tl.Name() == "read_file" {
			readFile = tl
		}
	}
	require.NotNil(t, readFile)

	missing := filepath.Join(t.TempDir(), "missing.txt")
	_, err := readFile.Call(context.Background(), map[string]any{"path": missing})
	require.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	_ = os.Remove(missing)
}

func TestBuiltinCreatePlan(t *testing.T) {
	tools := Builtins(nil)
	var plan Tool
	for _, tl := range tools {
		if tl.Name() == "create_plan" {
			plan = tl
		}
	}
	require.NotNil(t, plan)

	out, err := plan.Call(context.Background(), map[string]any{"goal": "fetch data; analyze; report"})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Len(t, result["steps"], 3)
}
