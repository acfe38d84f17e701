package definition

// InputKind tags the shape of a raw definition
type InputKind int

const (
	// KindNotObject is anything that is not a key/value object
	KindNotObject InputKind = iota
	// KindEmpty is an object with neither states nor transitions
	KindEmpty
	// KindInlineStates is a states list whose entries may name their own outgoing targets
	KindInlineStates
	// KindExplicitTransitions is a states list plus an explicit transition list
	KindExplicitTransitions
	// KindTransitionsOnly is a transition list with no states list
	KindTransitionsOnly
)

func (k InputKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInlineStates:
		return "inline-states"
	case KindExplicitTransitions:
		return "explicit-transitions"
	case KindTransitionsOnly:
		return "transitions-only"
	default:
		return "not-object"
	}
}

// Classify resolves which input variant raw is. An empty list counts as absent.
func Classify(raw any) InputKind {
	obj, ok := asObject(raw)
	if !ok {
		return KindNotObject
	}

	states := asList(obj["states"])
	transitions := asList(obj["transitions"])

	switch {
	case len(transitions) > 0 && len(states) > 0:
		return KindExplicitTransitions
	case len(transitions) > 0:
		return KindTransitionsOnly
	case len(states) > 0:
		return KindInlineStates
	default:
		return KindEmpty
	}
}

// asObject accepts map[string]any and the map[any]any some YAML decoders emit
func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i, item := range l {
			out[i] = item
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i, item := range l {
			out[i] = item
		}
		return out
	}
	return nil
}
