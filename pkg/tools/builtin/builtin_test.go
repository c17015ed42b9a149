package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/tools"
)

func testContext(t *testing.T) *tools.Context {
	t.Helper()
	return &tools.Context{
		TaskID:  "task-1",
		AgentID: "agent-1",
		BaseDir: t.TempDir(),
		ActorID: "tester",
		Policy:  tools.PolicyDefault,
	}
}

func rawArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		wantErr string
	}{
		{name: "simple relative path", rel: "notes.txt"},
		{name: "nested relative path", rel: "a/b/c.txt"},
		{name: "dot segments staying inside", rel: "a/../b.txt"},
		{name: "empty path", rel: "", wantErr: "path is required"},
		{name: "absolute path", rel: "/etc/passwd", wantErr: "absolute paths are not allowed"},
		{name: "escape via dotdot", rel: "../outside.txt", wantErr: "escapes the workspace"},
		{name: "deep escape", rel: "a/../../outside.txt", wantErr: "escapes the workspace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolvePath(base, tt.rel)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(resolved))
		})
	}
}

func TestReadFileTool(t *testing.T) {
	tc := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "hello.txt"), []byte("hello world"), 0o644))

	t.Run("reads file content", func(t *testing.T) {
		result, err := readFileTool{}.Execute(context.Background(), rawArgs(t, readFileArgs{Path: "hello.txt"}), tc)
		require.NoError(t, err)
		assert.Equal(t, "hello world", result.Content)
	})

	t.Run("missing file returns error", func(t *testing.T) {
		_, err := readFileTool{}.Execute(context.Background(), rawArgs(t, readFileArgs{Path: "nope.txt"}), tc)
		require.Error(t, err)
	})

	t.Run("rejects escape", func(t *testing.T) {
		_, err := readFileTool{}.Execute(context.Background(), rawArgs(t, readFileArgs{Path: "../hello.txt"}), tc)
		require.Error(t, err)
	})
}

func TestListDirTool(t *testing.T) {
	tc := testContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tc.BaseDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "a.txt"), nil, 0o644))

	result, err := listDirTool{}.Execute(context.Background(), nil, tc)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "a.txt\n")
	assert.Contains(t, result.Content, "sub/\n")
}

func TestGlobTool(t *testing.T) {
	tc := testContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tc.BaseDir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "main.go"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "pkg", "util.go"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "readme.md"), nil, 0o644))

	result, err := globTool{}.Execute(context.Background(), rawArgs(t, globArgs{Pattern: "*.go"}), tc)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "main.go")
	assert.Contains(t, result.Content, filepath.Join("pkg", "util.go"))
	assert.NotContains(t, result.Content, "readme.md")
}

func TestGrepTool(t *testing.T) {
	tc := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(tc.BaseDir, "code.go"), []byte("package main\nfunc main() {}\n"), 0o644))

	t.Run("finds matching lines with location", func(t *testing.T) {
		result, err := grepTool{}.Execute(context.Background(), rawArgs(t, grepArgs{Pattern: `func \w+`}), tc)
		require.NoError(t, err)
		assert.Contains(t, result.Content, "code.go:2:func main() {}")
	})

	t.Run("invalid pattern fails", func(t *testing.T) {
		_, err := grepTool{}.Execute(context.Background(), rawArgs(t, grepArgs{Pattern: "("}), tc)
		require.Error(t, err)
	})
}

func TestWriteFileTool(t *testing.T) {
	tc := testContext(t)

	t.Run("creates nested file", func(t *testing.T) {
		result, err := writeFileTool{}.Execute(context.Background(),
			rawArgs(t, writeFileArgs{Path: "out/report.txt", Content: "done"}), tc)
		require.NoError(t, err)
		assert.Contains(t, result.Content, "out/report.txt")

		data, err := os.ReadFile(filepath.Join(tc.BaseDir, "out", "report.txt"))
		require.NoError(t, err)
		assert.Equal(t, "done", string(data))
	})

	t.Run("risky by default, safe under yolo", func(t *testing.T) {
		assert.Equal(t, tools.RiskRisky, writeFileTool{}.RiskLevel(nil, tc))
		yolo := *tc
		yolo.Policy = tools.PolicyYolo
		assert.Equal(t, tools.RiskSafe, writeFileTool{}.RiskLevel(nil, &yolo))
	})
}

func TestEditFileTool(t *testing.T) {
	tc := testContext(t)
	path := filepath.Join(tc.BaseDir, "config.txt")

	write := func(content string) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	read := func() string {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(data)
	}

	t.Run("replaces unique fragment", func(t *testing.T) {
		write("mode = debug\n")
		_, err := editFileTool{}.Execute(context.Background(),
			rawArgs(t, editFileArgs{Path: "config.txt", Old: "debug", New: "release"}), tc)
		require.NoError(t, err)
		assert.Equal(t, "mode = release\n", read())
	})

	t.Run("ambiguous fragment rejected", func(t *testing.T) {
		write("x\nx\n")
		_, err := editFileTool{}.Execute(context.Background(),
			rawArgs(t, editFileArgs{Path: "config.txt", Old: "x", New: "y"}), tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "occurs 2 times")
	})

	t.Run("replace_all replaces every occurrence", func(t *testing.T) {
		write("x\nx\n")
		result, err := editFileTool{}.Execute(context.Background(),
			rawArgs(t, editFileArgs{Path: "config.txt", Old: "x", New: "y", ReplaceAll: true}), tc)
		require.NoError(t, err)
		assert.Contains(t, result.Content, "Replaced 2")
		assert.Equal(t, "y\ny\n", read())
	})

	t.Run("missing fragment rejected", func(t *testing.T) {
		write("abc\n")
		_, err := editFileTool{}.Execute(context.Background(),
			rawArgs(t, editFileArgs{Path: "config.txt", Old: "zzz", New: "y"}), tc)
		require.Error(t, err)
	})
}

func TestRunCommandTool(t *testing.T) {
	tc := testContext(t)

	t.Run("runs in workspace dir", func(t *testing.T) {
		result, err := runCommandTool{}.Execute(context.Background(),
			rawArgs(t, runCommandArgs{Command: "pwd"}), tc)
		require.NoError(t, err)
		assert.Contains(t, result.Content, filepath.Base(tc.BaseDir))
	})

	t.Run("nonzero exit becomes error result", func(t *testing.T) {
		result, err := runCommandTool{}.Execute(context.Background(),
			rawArgs(t, runCommandArgs{Command: "echo oops >&2; exit 3"}), tc)
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Error, "oops")
	})

	t.Run("timeout becomes error result", func(t *testing.T) {
		result, err := runCommandTool{}.Execute(context.Background(),
			rawArgs(t, runCommandArgs{Command: "sleep 5", TimeoutSeconds: 1}), tc)
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, result.Error, "timed out")
	})

	t.Run("empty command rejected", func(t *testing.T) {
		_, err := runCommandTool{}.Execute(context.Background(),
			rawArgs(t, runCommandArgs{Command: "  "}), tc)
		require.Error(t, err)
	})
}

func TestAllToolsDeclareSchemas(t *testing.T) {
	for _, tool := range All() {
		t.Run(tool.Name(), func(t *testing.T) {
			params := tool.Parameters()
			require.NotEmpty(t, params)
			assert.Equal(t, "object", params["type"])
			assert.NotEmpty(t, tool.Description())
			assert.NotEmpty(t, tool.Group())
		})
	}
}

func TestAllToolNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, tool := range All() {
		require.False(t, seen[tool.Name()], fmt.Sprintf("duplicate tool name %s", tool.Name()))
		seen[tool.Name()] = true
	}
}
