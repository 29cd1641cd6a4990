// Package registry holds the cascade-backed SQL function catalog: which
// names are callable from SQL, their shape/return type/operator syntax, and
// their caching policy. Entries are loaded from YAML cascade descriptors and
// swapped atomically so a reload never observes a half-built catalog.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/user/semsql"
)

// ArgDef describes one declared argument of a cascade-backed function.
type ArgDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// StructureNode is one element of a block operator's structure list:
// exactly one of Keyword, Capture, Repeat, or Optional is set.
type StructureNode struct {
	Keyword  string         `yaml:"keyword"`
	Capture  string         `yaml:"capture"`
	As       string         `yaml:"as"` // "string" | "expression" (default)
	Repeat   *RepeatNode    `yaml:"repeat"`
	Optional *OptionalNode  `yaml:"optional"`
}

// RepeatNode requires at least Min matches of Pattern, greedily collected.
type RepeatNode struct {
	Min     int             `yaml:"min"`
	Pattern []StructureNode `yaml:"pattern"`
}

// OptionalNode tries Pattern once; on failure it leaves no captures.
type OptionalNode struct {
	Pattern []StructureNode `yaml:"pattern"`
}

// BlockOperator declares a multi-keyword SQL construct (SEMANTIC_CASE ...
// END) that C5 rewrites into a function call.
type BlockOperator struct {
	Start     string          `yaml:"start"`
	End       string          `yaml:"end"`
	Structure []StructureNode `yaml:"structure"`
}

// DimensionFunction declares a DIMENSION-shaped function (C6): one whose
// first argument is a column to classify against a cascade-computed bucket
// set, in either "mapping" or "extractor_classifier" mode.
type DimensionFunction struct {
	Mode       string          `yaml:"mode"` // "mapping" | "extractor_classifier"
	Extractor  *DimensionStage `yaml:"extractor"`
	Classifier *DimensionStage `yaml:"classifier"`
}

// DimensionStage names the compute function backing one stage of an
// extractor_classifier mode dimension function. Function defaults to
// "<name>_extract"/"<name>_classify" when unset.
type DimensionStage struct {
	Function string `yaml:"function"`
}

// FunctionEntry is one registered SQL function, the Go analogue of the
// original SQLFunctionEntry.
type FunctionEntry struct {
	Name          string
	CascadePath   string
	CascadeID     string
	Shape         semsql.Shape
	Returns       semsql.ReturnType
	Args          []ArgDef
	Description   string
	Operators     []string
	CacheEnabled  bool
	CacheTTLSecs  *int
	BlockOperator *BlockOperator
	Dimension     *DimensionFunction
}

// cascadeFile is the on-disk YAML shape of a cascade descriptor that
// declares a sql_function block.
type cascadeFile struct {
	CascadeID   string `yaml:"cascade_id"`
	Description string `yaml:"description"`
	SQLFunction *struct {
		Name          string             `yaml:"name"`
		Shape         string             `yaml:"shape"`
		Returns       string             `yaml:"returns"`
		Args          []ArgDef           `yaml:"args"`
		Description   string             `yaml:"description"`
		Operators     []string           `yaml:"operators"`
		Enabled       *bool              `yaml:"enabled"`
		Cache         *bool              `yaml:"cache"`
		CacheTTL      *int               `yaml:"cache_ttl"`
		BlockOperator *BlockOperator     `yaml:"block_operator"`
		Dimension     *DimensionFunction `yaml:"dimension"`
	} `yaml:"sql_function"`
}

// DecodeCascadeFile decodes one cascade descriptor's bytes into a
// FunctionEntry. ok is false when the file has no sql_function block, or the
// function is explicitly disabled; neither case is an error.
func DecodeCascadeFile(path string, data []byte) (entry FunctionEntry, ok bool, err error) {
	var cf cascadeFile
	if uerr := yaml.Unmarshal(data, &cf); uerr != nil {
		return FunctionEntry{}, false, fmt.Errorf("decode cascade file %s: %w", path, uerr)
	}
	if cf.SQLFunction == nil || cf.CascadeID == "" {
		return FunctionEntry{}, false, nil
	}
	sf := cf.SQLFunction
	if sf.Enabled != nil && !*sf.Enabled {
		return FunctionEntry{}, false, nil
	}

	name := sf.Name
	if name == "" {
		name = cf.CascadeID
	}
	shape := semsql.Shape(strings.ToUpper(sf.Shape))
	if shape == "" {
		shape = semsql.ShapeScalar
	}
	returns := semsql.ReturnType(strings.ToUpper(sf.Returns))
	if returns == "" {
		returns = semsql.ReturnVarchar
	}
	desc := sf.Description
	if desc == "" {
		desc = cf.Description
	}
	cacheEnabled := true
	if sf.Cache != nil {
		cacheEnabled = *sf.Cache
	}

	blockOp := sf.BlockOperator
	if blockOp != nil {
		blockOp.Start = strings.ToUpper(blockOp.Start)
		blockOp.End = strings.ToUpper(blockOp.End)
	}

	return FunctionEntry{
		Name:          name,
		CascadePath:   path,
		CascadeID:     cf.CascadeID,
		Shape:         shape,
		Returns:       returns,
		Args:          sf.Args,
		Description:   desc,
		Operators:     sf.Operators,
		CacheEnabled:  cacheEnabled,
		CacheTTLSecs:  sf.CacheTTL,
		BlockOperator: blockOp,
		Dimension:     sf.Dimension,
	}, true, nil
}

// OperatorPattern is an infix/function operator phrase derived from a
// FunctionEntry's Operators templates, used by pkg/rewrite to recognise
// semantic operator usage in SQL text.
type OperatorPattern struct {
	PhraseUpper  string
	FunctionName string
	Returns      semsql.ReturnType
}

// clauseLevelPhrases require structural, context-sensitive handling done
// directly by pkg/rewrite rather than generic infix substitution.
var clauseLevelPhrases = map[string]bool{
	"RELEVANCE TO":     true,
	"NOT RELEVANCE TO": true,
	"SEMANTIC JOIN":    true,
	"SEMANTIC DISTINCT": true,
}

// Registry is a concurrency-safe, reload-by-atomic-swap function catalog.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]FunctionEntry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]FunctionEntry)}
}

// Load scans dirs in priority order (later directories override entries
// registered by earlier ones with the same name, matching traits/ <
// cascades/ precedence) for *.yaml and *.cascade.yaml cascade descriptors,
// decodes them, and atomically swaps them in as the new catalog. A missing
// directory is skipped, not an error.
func (r *Registry) Load(dirs ...string) error {
	order := make([]string, 0, 64)
	entries := make(map[string]FunctionEntry, 64)

	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		paths, err := scanCascadeFiles(dir)
		if err != nil {
			return fmt.Errorf("scan cascade dir %s: %w", dir, err)
		}
		for _, p := range paths {
			data, rerr := os.ReadFile(p)
			if rerr != nil {
				return fmt.Errorf("read cascade file %s: %w", p, rerr)
			}
			entry, ok, derr := DecodeCascadeFile(p, data)
			if derr != nil {
				return derr
			}
			if !ok {
				continue
			}
			if _, existed := entries[entry.Name]; !existed {
				order = append(order, entry.Name)
			}
			entries[entry.Name] = entry
		}
	}

	r.mu.Lock()
	r.order = order
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// scanCascadeFiles walks dir for *.yaml and *.cascade.yaml files, skipping
// FUTURE-marked (incomplete) files and backup directories.
func scanCascadeFiles(dir string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.Contains(name, "FUTURE") {
			return nil
		}
		if strings.Contains(path, "backup") {
			return nil
		}
		if !strings.HasSuffix(name, ".yaml") {
			return nil
		}
		if seen[path] {
			return nil
		}
		seen[path] = true
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// Register manually installs or replaces a single entry, for dynamic
// (non-file-backed) registration.
func (r *Registry) Register(entry FunctionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]FunctionEntry)
	}
	if _, existed := r.entries[entry.Name]; !existed {
		r.order = append(r.order, entry.Name)
	}
	r.entries[entry.Name] = entry
}

// Lookup returns the entry for name, if registered.
func (r *Registry) Lookup(name string) (FunctionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// AllEntries returns every registered entry in registration order.
func (r *Registry) AllEntries() []FunctionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionEntry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// OperatorPatterns derives infix/function operator phrases from every
// entry's Operators templates, in first-registered-wins order, excluding
// clause-level phrases that pkg/rewrite handles structurally.
func (r *Registry) OperatorPatterns() []OperatorPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	var out []OperatorPattern
	for _, name := range r.order {
		entry := r.entries[name]
		for _, tmpl := range entry.Operators {
			phrase := extractInfixPhrase(tmpl)
			if phrase == "" {
				continue
			}
			phraseUpper := strings.ToUpper(phrase)
			if clauseLevelPhrases[phraseUpper] {
				continue
			}
			if seen[phraseUpper] {
				continue
			}
			seen[phraseUpper] = true
			out = append(out, OperatorPattern{
				PhraseUpper:  phraseUpper,
				FunctionName: entry.Name,
				Returns:      entry.Returns,
			})
		}
	}
	return out
}

// extractInfixPhrase pulls the operator phrase between the first "}}" and
// the next "{{"/quote/paren/comma out of an operator template such as
// "{{lhs}} ALIGNS WITH {{rhs}}".
func extractInfixPhrase(tmpl string) string {
	idx := strings.Index(tmpl, "}}")
	if idx < 0 {
		return ""
	}
	after := strings.TrimLeft(tmpl[idx+2:], " \t\n\r")
	if after == "" {
		return ""
	}

	end := len(after)
	for _, stop := range []string{"{{", "'", "\"", "(", ")", ","} {
		if i := strings.Index(after, stop); i != -1 && i < end {
			end = i
		}
	}
	segment := strings.TrimSpace(after[:end])
	if segment == "" {
		return ""
	}
	return strings.Join(strings.Fields(segment), " ")
}
