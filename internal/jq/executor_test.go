package jq

import (
	"context"
	"testing"
	"time"
)

func TestExecute_Simple(t *testing.T) {
	e := NewExecutor(0, 0)

	result, err := e.Execute(context.Background(), ".name", map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != "world" {
		t.Errorf("result = %v, want %q", result, "world")
	}
}

func TestExecute_EmptyExpressionReturnsInput(t *testing.T) {
	e := NewExecutor(0, 0)
	in := map[string]any{"a": float64(1)}

	result, err := e.Execute(context.Background(), "", in)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if m, ok := result.(map[string]any); !ok || m["a"] != float64(1) {
		t.Errorf("result = %v, want input unchanged", result)
	}
}

func TestExecute_MultipleResults(t *testing.T) {
	e := NewExecutor(0, 0)

	result, err := e.Execute(context.Background(), ".[]", []any{float64(1), float64(2)})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	list, ok := result.([]any)
	if !ok || len(list) != 2 {
		t.Errorf("result = %v, want two elements", result)
	}
}

func TestExecute_ParseError(t *testing.T) {
	e := NewExecutor(0, 0)

	if _, err := e.Execute(context.Background(), ".[broken", nil); err == nil {
		t.Error("expected parse error for malformed expression")
	}
}

func TestExecute_InputSizeLimit(t *testing.T) {
	e := NewExecutor(time.Second, 16)

	_, err := e.Execute(context.Background(), ".", map[string]any{"key": "a long enough value"})
	if err == nil {
		t.Error("expected input size error")
	}
}

func TestValidate(t *testing.T) {
	e := NewExecutor(0, 0)

	if err := e.Validate(".items[] | .id"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := e.Validate(".[broken"); err == nil {
		t.Error("invalid expression accepted")
	}
	if err := e.Validate(""); err != nil {
		t.Errorf("empty expression rejected: %v", err)
	}
}

func TestExtractString(t *testing.T) {
	e := NewExecutor(0, 0)
	data := map[string]any{
		"repo":  map[string]any{"name": "arealink"},
		"count": float64(3),
		"tags":  []any{"a", "b"},
	}

	tests := []struct {
		expr string
		want string
	}{
		{".repo.name", "arealink"},
		{".count", "3"},
		{".missing", ""},
		{".tags", `["a","b"]`},
	}
	for _, tt := range tests {
		got, err := e.ExtractString(context.Background(), tt.expr, data)
		if err != nil {
			t.Errorf("ExtractString(%q) failed: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractString(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestExtractList(t *testing.T) {
	e := NewExecutor(0, 0)
	data := map[string]any{"items": []any{
		map[string]any{"id": "1"},
		map[string]any{"id": "2"},
	}}

	list, err := e.ExtractList(context.Background(), ".items", data)
	if err != nil {
		t.Fatalf("ExtractList failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d items, want 2", len(list))
	}

	empty, err := e.ExtractList(context.Background(), ".missing", data)
	if err != nil {
		t.Fatalf("ExtractList failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d items for missing key, want 0", len(empty))
	}
}
