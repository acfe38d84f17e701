package guard

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestEvaluate(t *testing.T) {
	ctx := map[string]any{
		"score":    95.0,
		"count":    3,
		"priority": "high",
		"approved": true,
		"owner":    map[string]any{"name": "ops", "level": json.Number("4")},
		"tags":     []any{"urgent", "finance"},
		"nothing":  nil,
	}
	entity := map[string]any{
		"amount": 250,
		"status": "open",
		"score":  10,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"score >= 80", true},
		{"score < 80", false},
		{"count == 3", true},
		{"count != 3", false},
		{"priority == 'high'", true},
		{`priority == "low"`, false},
		{"approved", true},
		{"!approved", false},
		{"not approved", false},
		{"approved && score > 90", true},
		{"approved and score > 99", false},
		{"score > 99 || amount > 100", true},
		{"score > 99 or amount > 1000", false},
		{"(score > 99 || count == 3) && priority == 'high'", true},
		{"owner.name == 'ops'", true},
		{"owner.level >= 4", true},
		{"tags[0] == 'urgent'", true},
		{"'finance' in tags", true},
		{"'legal' in tags", false},
		{"priority in ['high', 'critical']", true},
		{"status in ['closed']", false},
		{"amount > 200", true},
		{"entity.score == 10", true},
		{"context.score == 95", true},
		{"score == 95", true},
		{"context.amount > 0", false},
		{"missing > 5", false},
		{"missing < 5", false},
		{"missing == 5", false},
		{"missing != 5", false},
		{"missing == null", true},
		{"missing != null", false},
		{"null == missing", true},
		{"score != null", true},
		{"nothing == null", true},
		{"missing.deeper.still == 1", false},
		{"missing in ['a']", false},
		{"!missing", true},
		{"priority == 3", false},
		{"priority != 3", true},
		{"-1 < 0", true},
		{"1.5e1 == 15", true},
	}

	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res := e.Evaluate(tt.expr, ctx, entity)
			if res.Error != "" {
				t.Fatalf("unexpected error: %s", res.Error)
			}
			if res.Passed != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, res.Passed, tt.want)
			}
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	ctx := map[string]any{"score": 10, "name": "x", "flag": true}

	tests := []struct {
		expr    string
		errPart string
	}{
		{"score >=", "unexpected"},
		{"score >= 80 &&", "unexpected"},
		{"(score > 1", "expected )"},
		{"score @ 3", "unexpected character"},
		{"name == 'open", "unterminated"},
		{"name < 3", "cannot compare"},
		{"flag > true", "not ordered"},
		{"score", "not a boolean"},
		{"name && flag", "not a boolean"},
		{"score > null", "null"},
		{"score in 4", "not a list"},
		{"system('rm')", "unexpected"},
		{"score == 1 2", "unexpected"},
	}

	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res := e.Evaluate(tt.expr, ctx, nil)
			if res.Passed {
				t.Fatalf("expected failure for %q", tt.expr)
			}
			if !strings.Contains(res.Error, tt.errPart) {
				t.Errorf("error %q does not mention %q", res.Error, tt.errPart)
			}
		})
	}
}

func TestEvaluate_StepBudget(t *testing.T) {
	parts := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		parts = append(parts, "score == 1")
	}
	expr := strings.Join(parts, " || ")

	e := NewEvaluator(WithStepBudget(50))
	res := e.Evaluate(expr, map[string]any{"score": 2}, nil)
	if res.Passed || !strings.Contains(res.Error, "budget") {
		t.Fatalf("expected budget error, got %+v", res)
	}

	res = NewEvaluator().Evaluate(expr, map[string]any{"score": 2}, nil)
	if res.Error != "" || res.Passed {
		t.Fatalf("expected clean false, got %+v", res)
	}
}

func TestEvaluate_Limits(t *testing.T) {
	e := NewEvaluator(WithMaxLength(10))
	if res := e.Evaluate("score >= 100000", nil, nil); !strings.Contains(res.Error, "longer than") {
		t.Errorf("expected length error, got %+v", res)
	}

	deep := strings.Repeat("(", 40) + "true" + strings.Repeat(")", 40)
	if res := NewEvaluator().Evaluate(deep, nil, nil); !strings.Contains(res.Error, "nested") {
		t.Errorf("expected nesting error, got %+v", res)
	}
}

func TestCompile_DoesNotCache(t *testing.T) {
	e := NewEvaluator()
	a, err := e.Compile(" score > 1 ")
	if err != nil {
		t.Fatal(err)
	}
	if a.Source() != "score > 1" {
		t.Errorf("unexpected source %q", a.Source())
	}
	for i := 0; i < 10; i++ {
		if _, err := e.Compile(fmt.Sprintf("n == %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if got := e.Cached(); got != 0 {
		t.Errorf("Compile cached %d programs, want 0", got)
	}
}

func TestEvaluate_CacheIsBounded(t *testing.T) {
	e := NewEvaluator(WithCacheSize(4))
	for i := 0; i < 50; i++ {
		if res := e.Evaluate(fmt.Sprintf("n == %d", i), map[string]any{"n": i}, nil); !res.Passed {
			t.Fatalf("guard %d: %+v", i, res)
		}
	}
	if got := e.Cached(); got != 4 {
		t.Errorf("Cached() = %d, want 4", got)
	}

	e.Evaluate("score >", nil, nil)
	if got := e.Cached(); got != 4 {
		t.Errorf("syntax error was cached, Cached() = %d", got)
	}
}

func TestEvaluate_Concurrent(t *testing.T) {
	e := NewEvaluator()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res := e.Evaluate("score >= 10", map[string]any{"score": n}, nil)
			if res.Passed != (n >= 10) {
				t.Errorf("score %d: got %v", n, res.Passed)
			}
		}(i)
	}
	wg.Wait()
}
