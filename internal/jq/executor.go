// Package jq provides shared jq expression execution utilities.
//
// Service adapters use jq expressions to extract placeholder values from
// webhook payloads and to compute diffs over polled API responses, keeping
// the data plumbing declarative instead of per-adapter decoding code.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

const (
	// DefaultTimeout is the default execution time for jq expressions.
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB).
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor handles jq expression evaluation with timeout and size limits.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64
}

// NewExecutor creates a new jq executor with the given limits.
// Zero values select the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	return &Executor{timeout: timeout, maxInputSize: maxInputSize}
}

// Execute runs a jq expression against the given data with timeout protection.
// A single result is returned directly; multiple results are returned as a
// slice; no result returns nil.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		iter := code.RunWithContext(execCtx, data)

		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				errCh <- err
				return
			}
			results = append(results, v)
		}

		switch len(results) {
		case 0:
			resultCh <- nil
		case 1:
			resultCh <- results[0]
		default:
			resultCh <- results
		}
	}()

	select {
	case <-execCtx.Done():
		return nil, fmt.Errorf("jq execution timed out after %s", e.timeout)
	case err := <-errCh:
		return nil, fmt.Errorf("jq execution failed: %w", err)
	case result := <-resultCh:
		return result, nil
	}
}

// Validate checks a jq expression by attempting to compile it.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if _, err := gojq.Compile(query); err != nil {
		return fmt.Errorf("compile error: %w", err)
	}
	return nil
}

// ExtractString evaluates an expression and coerces the result to a string.
// JSON scalars are rendered with fmt; composite results are JSON-encoded.
func (e *Executor) ExtractString(ctx context.Context, expression string, data any) (string, error) {
	result, err := e.Execute(ctx, expression, data)
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64, int, bool:
		return fmt.Sprintf("%v", v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode jq result: %w", err)
		}
		return string(encoded), nil
	}
}

// ExtractList evaluates an expression expected to yield a list of items.
// A nil result yields an empty slice; a scalar result is wrapped.
func (e *Executor) ExtractList(ctx context.Context, expression string, data any) ([]any, error) {
	result, err := e.Execute(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return []any{v}, nil
	}
}

// validateInputSize rejects inputs whose JSON encoding exceeds the cap.
func (e *Executor) validateInputSize(data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to measure input: %w", err)
	}
	if int64(len(encoded)) > e.maxInputSize {
		return fmt.Errorf("input size %d exceeds limit %d", len(encoded), e.maxInputSize)
	}
	return nil
}
