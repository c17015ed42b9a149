package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a minimal tool for registry and executor tests.
type fakeTool struct {
	name    string
	group   string
	risk    RiskLevel
	params  map[string]any
	execute func(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }
func (f *fakeTool) Group() string {
	if f.group == "" {
		return "test"
	}
	return f.group
}
func (f *fakeTool) Parameters() map[string]any { return f.params }
func (f *fakeTool) RiskLevel(json.RawMessage, *Context) RiskLevel {
	if f.risk == "" {
		return RiskSafe
	}
	return f.risk
}
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error) {
	if f.execute != nil {
		return f.execute(ctx, args, tc)
	}
	return &Result{Content: "ok from " + f.name}, nil
}

func TestRegistryStatic(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterStatic(&fakeTool{name: "alpha"}))

		tool, ok := r.Lookup("alpha")
		require.True(t, ok)
		assert.Equal(t, "alpha", tool.Name())

		_, ok = r.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("duplicate static name rejected", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.RegisterStatic(&fakeTool{name: "alpha"}))
		err := r.RegisterStatic(&fakeTool{name: "alpha"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate static tool")
	})

	t.Run("empty name rejected", func(t *testing.T) {
		r := NewRegistry()
		require.Error(t, r.RegisterStatic(&fakeTool{name: ""}))
	})
}

func TestRegistryNamespaces(t *testing.T) {
	t.Run("set and replace wholesale", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "one"}, &fakeTool{name: "two"}}))

		_, ok := r.Lookup("one")
		require.True(t, ok)

		require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "three"}}))
		_, ok = r.Lookup("one")
		assert.False(t, ok, "replaced namespace no longer serves old tools")
		_, ok = r.Lookup("three")
		assert.True(t, ok)
	})

	t.Run("cross-namespace duplicate rejected", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "shared"}}))
		err := r.SetNamespace("mcp-b", []Tool{&fakeTool{name: "shared"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already provided by namespace")
	})

	t.Run("intra-namespace duplicate rejected", func(t *testing.T) {
		r := NewRegistry()
		err := r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "dup"}, &fakeTool{name: "dup"}})
		require.Error(t, err)
	})

	t.Run("static shadows dynamic on lookup and list", func(t *testing.T) {
		r := NewRegistry()
		static := &fakeTool{name: "read_file", group: "static"}
		require.NoError(t, r.RegisterStatic(static))
		require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "read_file", group: "dynamic"}}))

		tool, ok := r.Lookup("read_file")
		require.True(t, ok)
		assert.Equal(t, "static", tool.Group())

		listed := r.List()
		require.Len(t, listed, 1)
		assert.Equal(t, "static", listed[0].Group())
	})

	t.Run("remove namespace drops its tools", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "gone"}}))
		r.RemoveNamespace("mcp-a")
		_, ok := r.Lookup("gone")
		assert.False(t, ok)
	})
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterStatic(&fakeTool{name: "charlie"}, &fakeTool{name: "alpha"}))
	require.NoError(t, r.SetNamespace("mcp-a", []Tool{&fakeTool{name: "bravo"}}))

	names := make([]string, 0)
	for _, tool := range r.List() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "fake tool alpha", defs[0].Description)
}

func TestRegistryListGroup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterStatic(
		&fakeTool{name: "fs1", group: "filesystem"},
		&fakeTool{name: "sh1", group: "shell"},
		&fakeTool{name: "fs2", group: "filesystem"},
	))

	fs := r.ListGroup("filesystem")
	require.Len(t, fs, 2)
	for i, tool := range fs {
		assert.Equal(t, "filesystem", tool.Group(), fmt.Sprintf("tool %d", i))
	}
}
