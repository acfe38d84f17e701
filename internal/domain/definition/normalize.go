package definition

import (
	"encoding/json"
	"strings"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

// Normalize converts a loosely-shaped raw definition into the canonical model.
// It returns false when no state can be derived from raw or when the declared
// states list has a blank or repeated name; use ValidateRaw to obtain the
// reason.
//
// Repairs applied: duplicate edges keep their first occurrence, the first
// initial-marked state wins (or the first state when none is marked), and
// states without outgoing edges are marked final.
func Normalize(raw any) (*entity.WorkflowDefinition, bool) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	if checkStateNames(obj) != nil {
		return nil, false
	}

	n := newNormalizer()
	switch Classify(obj) {
	case KindInlineStates:
		n.inlineStates(asList(obj["states"]))
	case KindExplicitTransitions:
		n.declaredStates(asList(obj["states"]))
		n.explicitTransitions(asList(obj["transitions"]))
	case KindTransitionsOnly:
		n.explicitTransitions(asList(obj["transitions"]))
		n.inferStates()
	default:
		return nil, false
	}

	if len(n.states) == 0 {
		return nil, false
	}

	n.resolveInitial()
	n.inferFinal()

	def := readHeader(obj)
	def.States = n.states
	def.Transitions = n.transitions
	if def.Transitions == nil {
		def.Transitions = []entity.TransitionDefinition{}
	}
	return def, true
}

type normalizer struct {
	states      []entity.StateDefinition
	index       map[string]int
	transitions []entity.TransitionDefinition
	edges       map[[2]string]struct{}
}

func newNormalizer() *normalizer {
	return &normalizer{
		index: make(map[string]int),
		edges: make(map[[2]string]struct{}),
	}
}

// declare adds a state unless the name is blank or already present. Inline
// targets and transition endpoints rely on the dedupe.
func (n *normalizer) declare(s entity.StateDefinition) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return
	}
	if _, exists := n.index[s.Name]; exists {
		return
	}
	n.index[s.Name] = len(n.states)
	n.states = append(n.states, s)
}

func (n *normalizer) addTransition(t entity.TransitionDefinition) {
	t.From = strings.TrimSpace(t.From)
	t.To = strings.TrimSpace(t.To)
	if t.From == "" || t.To == "" {
		return
	}
	key := [2]string{t.From, t.To}
	if _, exists := n.edges[key]; exists {
		return
	}
	n.edges[key] = struct{}{}
	n.transitions = append(n.transitions, t)
}

func (n *normalizer) declaredStates(items []any) {
	for _, item := range items {
		s, _ := readState(item)
		n.declare(s)
	}
}

// inlineStates expands self-declared outgoing references. Targets that were
// never declared are appended as plain states.
func (n *normalizer) inlineStates(items []any) {
	type pending struct {
		from    string
		targets []any
	}
	var refs []pending

	for _, item := range items {
		s, targets := readState(item)
		n.declare(s)
		if len(targets) > 0 {
			refs = append(refs, pending{from: strings.TrimSpace(s.Name), targets: targets})
		}
	}

	for _, ref := range refs {
		for _, target := range ref.targets {
			t, ok := readInlineTransition(ref.from, target)
			if !ok {
				continue
			}
			n.declare(entity.StateDefinition{Name: t.To})
			n.addTransition(t)
		}
	}
}

func (n *normalizer) explicitTransitions(items []any) {
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			continue
		}
		n.addTransition(entity.TransitionDefinition{
			From:         stringField(obj, "from", "source"),
			To:           stringField(obj, "to", "target"),
			Guard:        stringField(obj, "guard", "condition"),
			Action:       stringField(obj, "action"),
			ActionPolicy: strings.ToLower(stringField(obj, "actionPolicy", "action_policy")),
			Metadata:     mapField(obj, "metadata"),
		})
	}
}

// inferStates derives the state set from transition endpoints in first-seen
// order. The first name is initial; the last is final when more than one
// state was inferred.
func (n *normalizer) inferStates() {
	for _, t := range n.transitions {
		n.declare(entity.StateDefinition{Name: t.From})
		n.declare(entity.StateDefinition{Name: t.To})
	}
	if len(n.states) == 0 {
		return
	}
	n.states[0].Initial = true
	if len(n.states) > 1 {
		n.states[len(n.states)-1].Final = true
	}
}

func (n *normalizer) resolveInitial() {
	found := false
	for i := range n.states {
		if !n.states[i].Initial {
			continue
		}
		if found {
			n.states[i].Initial = false
			continue
		}
		found = true
	}
	if !found {
		n.states[0].Initial = true
	}
}

func (n *normalizer) inferFinal() {
	hasOutgoing := make(map[string]bool, len(n.transitions))
	for _, t := range n.transitions {
		hasOutgoing[t.From] = true
	}
	for i := range n.states {
		if !hasOutgoing[n.states[i].Name] {
			n.states[i].Final = true
		}
	}
}

// readState accepts a bare name or an object; it also returns any inline
// outgoing references.
func readState(item any) (entity.StateDefinition, []any) {
	if name, ok := item.(string); ok {
		return entity.StateDefinition{Name: name}, nil
	}
	obj, ok := asObject(item)
	if !ok {
		return entity.StateDefinition{}, nil
	}
	return entity.StateDefinition{
		Name:     stringField(obj, "name", "id"),
		Initial:  boolField(obj, "initial"),
		Final:    boolField(obj, "final", "terminal"),
		Metadata: mapField(obj, "metadata"),
	}, asList(obj["transitions"])
}

func readInlineTransition(from string, target any) (entity.TransitionDefinition, bool) {
	if name, ok := target.(string); ok {
		name = strings.TrimSpace(name)
		return entity.TransitionDefinition{From: from, To: name}, name != ""
	}
	obj, ok := asObject(target)
	if !ok {
		return entity.TransitionDefinition{}, false
	}
	t := entity.TransitionDefinition{
		From:         from,
		To:           strings.TrimSpace(stringField(obj, "to", "target")),
		Guard:        stringField(obj, "guard", "condition"),
		Action:       stringField(obj, "action"),
		ActionPolicy: strings.ToLower(stringField(obj, "actionPolicy", "action_policy")),
		Metadata:     mapField(obj, "metadata"),
	}
	return t, t.To != ""
}

func readHeader(obj map[string]any) *entity.WorkflowDefinition {
	def := &entity.WorkflowDefinition{
		ID:         stringField(obj, "id"),
		Name:       stringField(obj, "name"),
		EntityType: stringField(obj, "entityType", "entity_type", "entity"),
		Version:    intField(obj, "version"),
		Status:     strings.ToLower(stringField(obj, "status")),
	}
	if def.Version <= 0 {
		def.Version = 1
	}
	if def.Status == "" {
		def.Status = entity.DefinitionStatusDraft
	}
	return def
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func boolField(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := obj[k].(bool); ok && b {
			return true
		}
	}
	return false
}

func mapField(obj map[string]any, key string) map[string]any {
	m, ok := asObject(obj[key])
	if !ok || len(m) == 0 {
		return nil
	}
	return entity.CloneMap(m)
}

func intField(obj map[string]any, key string) int {
	switch v := obj[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		i, _ := v.Int64()
		return int(i)
	}
	return 0
}
