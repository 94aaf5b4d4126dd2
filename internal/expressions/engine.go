package expressions

import "context"

// Engine evaluates an expression against a decoded JSON-like value.
// Two implementations: GoJQ (response extraction) and Expr (acceptance rules).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data any) (any, error)
}
