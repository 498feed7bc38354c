package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vjranagit/trialpipe/internal/perrors"
)

func TestReaderUnknownClassIsConfigError(t *testing.T) {
	_, err := Reader("does_not_exist", nil)
	if err == nil || !perrors.Is(err, perrors.KindConfig) {
		t.Fatalf("expected a Config error, got %v", err)
	}
}

func TestReaderRejectsUnknownArgsKey(t *testing.T) {
	_, err := Reader("csv_numeric", json.RawMessage(`{"path": "x.csv", "result_name": "a", "bogus": 1}`))
	if err == nil || !perrors.Is(err, perrors.KindConfig) {
		t.Fatalf("expected a Config error for an unknown key, got %v", err)
	}
}

func TestReaderBuildsCSVNumeric(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codes.csv")
	if err := os.WriteFile(path, []byte("0.5,1\n1.5,2\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	args, _ := json.Marshal(map[string]interface{}{"path": path, "result_name": "codes", "batch_size": 1})
	r, err := Reader("csv_numeric", args)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if r == nil {
		t.Fatal("expected a non-nil reader")
	}
}

func TestTransformerBuildsOffsetThenGain(t *testing.T) {
	args, _ := json.Marshal(map[string]interface{}{"offset": 10.0, "gain": -2.0})
	tf, err := Transformer("offset_then_gain", args)
	if err != nil {
		t.Fatalf("Transformer: %v", err)
	}
	if tf == nil {
		t.Fatal("expected a non-nil transformer")
	}
}

func TestEnhancerBuildsExpression(t *testing.T) {
	args, _ := json.Marshal(map[string]interface{}{"name": "score", "expression": "end - start"})
	e, err := Enhancer("expression", args)
	if err != nil {
		t.Fatalf("Enhancer: %v", err)
	}
	if e.Name() != "score" {
		t.Fatalf("Name() = %q, want %q", e.Name(), "score")
	}
}

func TestCollecterUnknownClassIsConfigError(t *testing.T) {
	_, err := Collecter("does_not_exist", nil)
	if err == nil || !perrors.Is(err, perrors.KindConfig) {
		t.Fatalf("expected a Config error, got %v", err)
	}
}

func TestExpressionRejectsEmptySource(t *testing.T) {
	if _, err := Expression("   "); err == nil {
		t.Fatal("expected an error for an empty expression")
	}
}
