// Package semsql defines the core domain types shared across the semantic
// SQL engine: the rewrite pipeline, the two-tier cache, the cascade UDF
// dispatcher, the prewarm sidecar, and the query lifecycle tracker.
package semsql

import "context"

// Shape describes how a cascade-backed function behaves in SQL.
type Shape string

const (
	ShapeScalar    Shape = "SCALAR"
	ShapeAggregate Shape = "AGGREGATE"
	ShapeDimension Shape = "DIMENSION"
)

// ReturnType is the SQL-level type a cascade result is coerced into.
type ReturnType string

const (
	ReturnBoolean ReturnType = "BOOLEAN"
	ReturnDouble  ReturnType = "DOUBLE"
	ReturnInteger ReturnType = "INTEGER"
	ReturnVarchar ReturnType = "VARCHAR"
	ReturnJSON    ReturnType = "JSON"
)

// DirectiveType names a SQL prefix directive recognised by the rewriter.
type DirectiveType string

const (
	DirectiveBackground DirectiveType = "BACKGROUND"
	DirectiveAnalyze    DirectiveType = "ANALYZE"
	DirectiveWatch      DirectiveType = "WATCH"
)

// Directive is the result of stripping a leading BACKGROUND/ANALYZE/WATCH
// prefix from a SQL statement.
type Directive struct {
	Type     DirectiveType
	InnerSQL string
	Prompt   string // set for ANALYZE
	Watch    *WatchDirective
}

// WatchDirective captures the structured shape of a CREATE/DROP/SHOW/ALTER/
// DESCRIBE/TRIGGER WATCH command. Only parsing is implemented; the reactive
// polling engine that would execute a watch is an external collaborator.
type WatchDirective struct {
	Command     string // CREATE, DROP, SHOW, DESCRIBE, TRIGGER, ALTER
	Name        string
	Query       string
	ActionType  string
	ActionSpec  string
	PollInterval string
	Description string
	SetField    string
	SetValue    string
}

// Logger is the structured logging interface used throughout the engine.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// CascadeClient is the external collaborator that actually runs an LLM
// workflow. The engine never executes a cascade itself; it only builds the
// call and interprets the result.
type CascadeClient interface {
	// Run invokes the cascade at cascadePath with the given session id and
	// input arguments, optionally tagged with a caller id for cost rollup.
	Run(ctx context.Context, cascadePath, sessionID string, args map[string]any, callerID string) (map[string]any, error)
}
