package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user/semsql"
)

const meansCascade = `
cascade_id: semantic_means
description: matches text meaning
sql_function:
  name: semantic_matches
  shape: SCALAR
  returns: BOOLEAN
  operators:
    - "{{lhs}} MEANS {{rhs}}"
  args:
    - name: text
      type: VARCHAR
`

const disabledCascade = `
cascade_id: semantic_disabled
sql_function:
  name: semantic_disabled_fn
  enabled: false
  operators:
    - "{{lhs}} DISABLED {{rhs}}"
`

const noFnCascade = `
cascade_id: not_a_function
description: no sql_function block
`

func TestDecodeCascadeFile(t *testing.T) {
	entry, ok, err := DecodeCascadeFile("means.yaml", []byte(meansCascade))
	if err != nil || !ok {
		t.Fatalf("err=%v ok=%v", err, ok)
	}
	if entry.Name != "semantic_matches" || entry.Shape != semsql.ShapeScalar || entry.Returns != semsql.ReturnBoolean {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !entry.CacheEnabled {
		t.Error("cache should default to enabled")
	}
}

func TestDecodeCascadeFileDisabled(t *testing.T) {
	_, ok, err := DecodeCascadeFile("disabled.yaml", []byte(disabledCascade))
	if err != nil || ok {
		t.Fatalf("expected disabled entry to be skipped: ok=%v err=%v", ok, err)
	}
}

func TestDecodeCascadeFileNoSQLFunction(t *testing.T) {
	_, ok, err := DecodeCascadeFile("nofn.yaml", []byte(noFnCascade))
	if err != nil || ok {
		t.Fatalf("expected non-function cascade to be skipped: ok=%v err=%v", ok, err)
	}
}

func TestRegistryLoadPrecedence(t *testing.T) {
	traits := t.TempDir()
	cascades := t.TempDir()

	writeFile(t, filepath.Join(traits, "means.yaml"), meansCascade)
	// cascades/ overrides traits/ for the same function name with a different operator.
	override := `
cascade_id: semantic_means_v2
sql_function:
  name: semantic_matches
  shape: SCALAR
  returns: BOOLEAN
  operators:
    - "{{lhs}} MEANS {{rhs}}"
    - "{{lhs}} ~ {{rhs}}"
`
	writeFile(t, filepath.Join(cascades, "means.yaml"), override)

	r := New()
	if err := r.Load(traits, cascades); err != nil {
		t.Fatalf("Load: %v", err)
	}

	entry, ok := r.Lookup("semantic_matches")
	if !ok {
		t.Fatal("expected semantic_matches to be registered")
	}
	if entry.CascadeID != "semantic_means_v2" {
		t.Fatalf("expected cascades/ entry to win, got cascade_id=%s", entry.CascadeID)
	}
	if len(entry.Operators) != 2 {
		t.Fatalf("expected overridden operators, got %v", entry.Operators)
	}
}

func TestRegistrySkipsFutureAndBackup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "real.yaml"), meansCascade)
	writeFile(t, filepath.Join(dir, "draft.FUTURE.yaml"), meansCascade)
	if err := os.MkdirAll(filepath.Join(dir, "backup"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "backup", "old.yaml"), meansCascade)

	r := New()
	if err := r.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(r.AllEntries()) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(r.AllEntries()))
	}
}

func TestRegistryMissingDirIsNotError(t *testing.T) {
	r := New()
	if err := r.Load(filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
}

func TestRegisterDynamic(t *testing.T) {
	r := New()
	r.Register(FunctionEntry{Name: "semantic_dynamic", Returns: semsql.ReturnVarchar})
	entry, ok := r.Lookup("semantic_dynamic")
	if !ok || entry.Returns != semsql.ReturnVarchar {
		t.Fatalf("got %+v, %v", entry, ok)
	}
}

func TestOperatorPatternsExcludesClauseLevel(t *testing.T) {
	r := New()
	r.Register(FunctionEntry{
		Name:      "semantic_matches",
		Returns:   semsql.ReturnBoolean,
		Operators: []string{"{{lhs}} MEANS {{rhs}}", "{{lhs}} RELEVANCE TO {{rhs}}"},
	})
	patterns := r.OperatorPatterns()
	if len(patterns) != 1 || patterns[0].PhraseUpper != "MEANS" {
		t.Fatalf("got %+v", patterns)
	}
}

func TestOperatorPatternsDedupFirstWins(t *testing.T) {
	r := New()
	r.Register(FunctionEntry{Name: "semantic_a", Operators: []string{"{{lhs}} ALIGNS WITH {{rhs}}"}})
	r.Register(FunctionEntry{Name: "semantic_b", Operators: []string{"{{lhs}} ALIGNS WITH {{rhs}}"}})
	patterns := r.OperatorPatterns()
	if len(patterns) != 1 || patterns[0].FunctionName != "semantic_a" {
		t.Fatalf("expected first registration to win, got %+v", patterns)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
