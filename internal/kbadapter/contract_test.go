package kbadapter_test

import (
	"context"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
)

func TestRegistryExecute_UnknownOperation(t *testing.T) {
	r := kbadapter.NewRegistry()
	_, err := r.Execute(context.Background(), "ghost_op", nil)
	if err == nil {
		t.Fatal("expected error for unregistered operation")
	}
	var notFound *kbadapter.ErrOperationNotFound
	if e, ok := err.(*kbadapter.ErrOperationNotFound); ok {
		notFound = e
	}
	if notFound == nil {
		t.Errorf("expected ErrOperationNotFound, got %T: %v", err, err)
	}
}

func TestRegistryExecute_Dispatches(t *testing.T) {
	r := kbadapter.NewRegistry()
	r.Register(kbadapter.OperationMetadata{Name: "echo"}, func(_ context.Context, params map[string]any) (any, error) {
		return params, nil
	})

	out, err := r.Execute(context.Background(), "echo", map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got, ok := out.(map[string]any)
	if !ok || got["a"] != 1 {
		t.Errorf("Execute() = %v, want echoed params", out)
	}
}

func TestValidateParams_RejectsMissingRequiredField(t *testing.T) {
	meta := kbadapter.OperationMetadata{
		Name:        "sql_query",
		InputSchema: []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
	}
	err := kbadapter.ValidateParams(meta, map[string]any{})
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestValidateParams_AcceptsValidParams(t *testing.T) {
	meta := kbadapter.OperationMetadata{
		Name:        "sql_query",
		InputSchema: []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
	}
	if err := kbadapter.ValidateParams(meta, map[string]any{"query": "SELECT 1"}); err != nil {
		t.Errorf("ValidateParams() error = %v, want nil", err)
	}
}
