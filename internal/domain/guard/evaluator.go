// Package guard evaluates transition guard expressions.
//
// The language supports field lookups against the instance context and the
// entity snapshot, literals (numbers, quoted strings, true, false, null),
// comparisons (== != < <= > >=), membership (in [..]), and boolean
// connectives (&& || ! and their word forms). Nothing else is callable.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultStepBudget bounds the number of nodes visited per evaluation
	DefaultStepBudget = 1000
	// DefaultMaxLength bounds the expression source length
	DefaultMaxLength = 2048
	// DefaultCacheSize bounds the programs kept for Evaluate
	DefaultCacheSize = 512
)

var errBudgetExceeded = errors.New("evaluation step budget exceeded")

// Result is the outcome of one guard evaluation. A non-empty Error always
// comes with Passed=false.
type Result struct {
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Program is a compiled guard expression, safe for concurrent use
type Program struct {
	source string
	root   node
}

// Source returns the expression the program was compiled from
func (p *Program) Source() string { return p.source }

// Evaluator compiles and evaluates guard expressions. Evaluate keeps the most
// recently used programs in a bounded cache keyed by source text; Compile
// never touches it.
type Evaluator struct {
	stepBudget int
	maxLength  int
	cacheSize  int
	cache      *lru.Cache[string, *Program]
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithStepBudget sets the per-evaluation node budget
func WithStepBudget(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.stepBudget = n
		}
	}
}

// WithMaxLength sets the longest accepted expression
func WithMaxLength(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxLength = n
		}
	}
}

// WithCacheSize sets how many compiled programs Evaluate keeps
func WithCacheSize(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.cacheSize = n
		}
	}
}

// NewEvaluator creates an Evaluator
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		stepBudget: DefaultStepBudget,
		maxLength:  DefaultMaxLength,
		cacheSize:  DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	// size is always positive here, the only error lru.New reports
	e.cache, _ = lru.New[string, *Program](e.cacheSize)
	return e
}

// Compile parses expr. A blank expression compiles to a program that always passes.
func (e *Evaluator) Compile(expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if len(expr) > e.maxLength {
		return nil, fmt.Errorf("expression longer than %d characters", e.maxLength)
	}

	prog := &Program{source: expr}
	if expr != "" {
		root, err := parse(expr)
		if err != nil {
			return nil, err
		}
		prog.root = root
	}
	return prog, nil
}

// program returns the cached compilation of expr, compiling on a miss.
// Expressions that fail to compile are not cached.
func (e *Evaluator) program(expr string) (*Program, error) {
	expr = strings.TrimSpace(expr)
	if prog, ok := e.cache.Get(expr); ok {
		return prog, nil
	}
	prog, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	e.cache.Add(expr, prog)
	return prog, nil
}

// Cached reports how many compiled programs Evaluate currently holds
func (e *Evaluator) Cached() int {
	return e.cache.Len()
}

// Evaluate compiles and runs expr against the given bags. It never panics;
// syntax errors and runtime errors are reported in the Result.
func (e *Evaluator) Evaluate(expr string, context, entity map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Passed: false, Error: fmt.Sprintf("guard evaluation panic: %v", r)}
		}
	}()

	prog, err := e.program(expr)
	if err != nil {
		return Result{Passed: false, Error: err.Error()}
	}
	return e.Run(prog, context, entity)
}

// Run evaluates a compiled program
func (e *Evaluator) Run(prog *Program, context, entity map[string]any) Result {
	if prog == nil || prog.root == nil {
		return Result{Passed: true}
	}
	st := &state{context: context, entity: entity, budget: e.stepBudget}
	v, err := st.eval(prog.root)
	if err != nil {
		return Result{Passed: false, Error: err.Error()}
	}
	switch b := v.(type) {
	case bool:
		return Result{Passed: b}
	case nil:
		return Result{Passed: false}
	default:
		return Result{Passed: false, Error: fmt.Sprintf("expression yields %s, not a boolean", kindOf(v))}
	}
}

type state struct {
	context map[string]any
	entity  map[string]any
	budget  int
	steps   int
}

func (s *state) step() error {
	s.steps++
	if s.steps > s.budget {
		return errBudgetExceeded
	}
	return nil
}

// eval returns nil for null and for absent fields
func (s *state) eval(n node) (any, error) {
	if err := s.step(); err != nil {
		return nil, err
	}

	switch n := n.(type) {
	case *literalNode:
		return n.value, nil
	case *pathNode:
		return s.lookup(n)
	case *listNode:
		out := make([]any, 0, len(n.items))
		for _, item := range n.items {
			v, err := s.eval(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *notNode:
		v, err := s.evalBool(n.operand)
		if err != nil {
			return nil, err
		}
		return !v, nil
	case *logicalNode:
		left, err := s.evalBool(n.left)
		if err != nil {
			return nil, err
		}
		if n.op == "&&" && !left {
			return false, nil
		}
		if n.op == "||" && left {
			return true, nil
		}
		return s.evalBool(n.right)
	case *compareNode:
		return s.compare(n)
	case *inNode:
		return s.member(n)
	}
	return nil, fmt.Errorf("unsupported expression node %T", n)
}

// evalBool treats an absent operand as false
func (s *state) evalBool(n node) (bool, error) {
	v, err := s.eval(n)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	}
	return false, fmt.Errorf("%s is not a boolean", describe(n, v))
}

// lookup resolves bare paths against context first, then entity
func (s *state) lookup(p *pathNode) (any, error) {
	var bags []map[string]any
	switch p.source {
	case sourceContext:
		bags = []map[string]any{s.context}
	case sourceEntity:
		bags = []map[string]any{s.entity}
	default:
		bags = []map[string]any{s.context, s.entity}
	}

	for _, bag := range bags {
		if bag == nil {
			continue
		}
		v, err := p.query.Search(bag)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %v", p.text, err)
		}
		if v != nil {
			return normalize(v), nil
		}
	}
	return nil, nil
}

func (s *state) compare(n *compareNode) (any, error) {
	left, err := s.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(n.right)
	if err != nil {
		return nil, err
	}

	// explicit absence test
	if isNullLiteral(n.left) || isNullLiteral(n.right) {
		other := left
		if isNullLiteral(n.left) {
			other = right
		}
		switch n.op {
		case "==":
			return other == nil, nil
		case "!=":
			return other != nil, nil
		default:
			return nil, fmt.Errorf("operator %s cannot be applied to null", n.op)
		}
	}

	if left == nil || right == nil {
		return false, nil
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	}

	cmp, err := order(left, right)
	if err != nil {
		return nil, fmt.Errorf("%s %s %s: %v", describe(n.left, left), n.op, describe(n.right, right), err)
	}
	switch n.op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func (s *state) member(n *inNode) (any, error) {
	left, err := s.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(n.right)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		return false, nil
	}

	switch r := right.(type) {
	case []any:
		for _, item := range r {
			if err := s.step(); err != nil {
				return nil, err
			}
			if item != nil && equal(left, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		str, ok := left.(string)
		if !ok {
			return nil, fmt.Errorf("in: cannot search %s within a string", kindOf(left))
		}
		return strings.Contains(r, str), nil
	}
	return nil, fmt.Errorf("in: right side is %s, not a list", kindOf(right))
}

func isNullLiteral(n node) bool {
	lit, ok := n.(*literalNode)
	return ok && lit.null
}

func equal(a, b any) bool {
	if an, ok := a.(float64); ok {
		bn, ok := b.(float64)
		return ok && an == bn
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, error) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			break
		}
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		}
		return 0, nil
	case string:
		bv, ok := b.(string)
		if !ok {
			break
		}
		return strings.Compare(av, bv), nil
	default:
		return 0, fmt.Errorf("%s values are not ordered", kindOf(a))
	}
	return 0, fmt.Errorf("cannot compare %s with %s", kindOf(a), kindOf(b))
}

// normalize folds Go numeric kinds into float64 so comparisons do not depend
// on how the bag was decoded.
func normalize(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = normalize(item)
		}
		return out
	}
	return v
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func describe(n node, v any) string {
	if p, ok := n.(*pathNode); ok {
		return fmt.Sprintf("%s (%s)", p.text, kindOf(v))
	}
	return kindOf(v)
}
