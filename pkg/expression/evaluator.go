// Package expression implements Trinity's ExpressionEvaluator: the small
// templating and predicate language used by step conditions and
// message_template rendering. It wraps github.com/expr-lang/expr, which
// understands plain Go-ish expressions over a map env, and adds the
// `{{...}}` substitution syntax and `| default:"..."` pipe on top.
package expression

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/trinity-run/trinity/pkg/errs"
)

// Context is the execution-scoped value tree expressions evaluate
// against: input.*, steps.{id}.output.*, steps.{id}.status, and now.
type Context struct {
	Input map[string]any
	Steps map[string]StepView
	Now   time.Time
}

// StepView is the subset of a step's runtime state visible to
// expressions.
type StepView struct {
	Status string
	Output any
}

func (c Context) env() map[string]any {
	steps := make(map[string]any, len(c.Steps))
	for id, sv := range c.Steps {
		steps[id] = map[string]any{
			"status": sv.Status,
			"output": sv.Output,
		}
	}
	return map[string]any{
		"input": c.Input,
		"steps": steps,
		"now":   c.Now,
	}
}

var substitutionPattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Evaluator evaluates substitution templates and boolean predicates. Its
// only state is a cache of compiled programs, and it is safe for
// concurrent use.
type Evaluator struct {
	// programCache avoids recompiling identical expression strings; expr
	// programs are immutable and safe to share across goroutines.
	programCache *programCache
}

// New returns a ready-to-use Evaluator.
func New() *Evaluator {
	return &Evaluator{programCache: newProgramCache()}
}

// Substitute renders a template string, replacing every `{{expr}}` (or
// `{{expr | default:"fallback"}}`) occurrence with its evaluated value.
// Missing paths render as "" unless a default pipe is given. Only a
// syntax error in one of the embedded expressions returns ExpressionError;
// semantic misses (missing paths) never fail the call.
func (e *Evaluator) Substitute(template string, ctx Context) (string, error) {
	var firstErr error
	env := ctx.env()
	result := substitutionPattern.ReplaceAllStringFunc(template, func(match string) string {
		inner := substitutionPattern.FindStringSubmatch(match)[1]
		exprSrc, defaultVal, hasDefault := splitDefaultPipe(inner)

		val, found, err := e.evalPath(exprSrc, env)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil || !found || val == nil {
			if hasDefault {
				return defaultVal
			}
			return ""
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// EvaluatePredicate evaluates a boolean predicate such as
// `{{steps.review.output.decision}} == 'approved'` or a bare expr expression.
// Any `{{...}}` wrapper in the source is stripped (expr already
// understands the dotted-path syntax inside); the whole thing is then
// compiled and run. Compile (syntax) errors become ExpressionError;
// runtime type mismatches caused by missing values are treated as a
// semantic miss and evaluate to false, per contract.
func (e *Evaluator) EvaluatePredicate(source string, ctx Context) (bool, error) {
	cleaned := stripBraces(source)
	env := ctx.env()

	program, err := e.programCache.compile(cleaned, env)
	if err != nil {
		return false, errs.Wrap(errs.ExpressionError, fmt.Sprintf("failed to parse predicate %q", source), err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		// A runtime failure here is almost always a missing/nil operand
		// (e.g. comparing nil < number); treat as a semantic miss.
		return false, nil
	}
	b, ok := out.(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}

// evalPath evaluates a single `{{...}}` inner expression (typically a
// dotted identifier path, but any expr expression is accepted) and
// reports whether it resolved to a non-missing value.
func (e *Evaluator) evalPath(src string, env map[string]any) (any, bool, error) {
	program, err := e.programCache.compile(src, env)
	if err != nil {
		return nil, false, errs.Wrap(errs.ExpressionError, fmt.Sprintf("failed to parse expression %q", src), err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, false, nil
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func splitDefaultPipe(inner string) (exprSrc, defaultVal string, hasDefault bool) {
	idx := strings.LastIndex(inner, "|")
	if idx < 0 {
		return strings.TrimSpace(inner), "", false
	}
	head := strings.TrimSpace(inner[:idx])
	tail := strings.TrimSpace(inner[idx+1:])
	const prefix = "default:"
	if !strings.HasPrefix(tail, prefix) {
		return strings.TrimSpace(inner), "", false
	}
	val := strings.TrimSpace(tail[len(prefix):])
	val = strings.Trim(val, `"'`)
	return head, val, true
}

func stripBraces(s string) string {
	s = strings.ReplaceAll(s, "{{", "")
	s = strings.ReplaceAll(s, "}}", "")
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// programCache is a trivial concurrency-safe cache keyed by expression
// source. Re-used compiled programs avoid re-parsing the same step
// condition on every dependency-resolution pass.
type programCache struct {
	mu    sync.Mutex
	cache map[string]*vm.Program
}

func newProgramCache() *programCache {
	return &programCache{cache: make(map[string]*vm.Program)}
}

func (c *programCache) compile(src string, env map[string]any) (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.cache[src]; ok {
		return p, nil
	}
	p, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	c.cache[src] = p
	return p, nil
}
