package definition

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// ParseJSON decodes a raw definition document. Numbers stay json.Number.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", workflow.ErrValidation, err)
	}
	return raw, nil
}

// ParseYAML decodes a raw definition document written in YAML
func ParseYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", workflow.ErrValidation, err)
	}
	return raw, nil
}
