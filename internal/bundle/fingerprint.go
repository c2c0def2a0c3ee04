package bundle

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

type canonicalStep struct {
	StepNo      int         `json:"step_no"`
	StepType    string      `json:"step_type"`
	Label       string      `json:"label,omitempty"`
	InputValues value.Value `json:"input_values"`
}

type canonicalRevision struct {
	StartStepNo int                   `json:"start_step_no"`
	Steps       []canonicalStep       `json:"steps"`
	Links       []schema.WorkflowLink `json:"links"`
	Defaults    value.Value           `json:"defaults"`
}

// Fingerprint hashes the graph content of rev: start step, steps, links and
// defaults. Ids, numbers and timestamps are ignored, and step and link
// order and JSON key order do not matter.
func Fingerprint(rev *schema.WorkflowRevision) (string, error) {
	c := canonicalRevision{
		StartStepNo: rev.StartStepNo,
		Steps:       make([]canonicalStep, len(rev.Steps)),
		Links:       append([]schema.WorkflowLink{}, rev.Links...),
	}

	for i, s := range rev.Steps {
		inputs, err := value.Parse(s.InputValues)
		if err != nil {
			return "", fmt.Errorf("fingerprint step %d: %w", s.StepNo, err)
		}
		c.Steps[i] = canonicalStep{StepNo: s.StepNo, StepType: s.StepType, Label: s.Label, InputValues: inputs}
	}
	sort.Slice(c.Steps, func(i, j int) bool { return c.Steps[i].StepNo < c.Steps[j].StepNo })
	sort.Slice(c.Links, func(i, j int) bool { return linkKey(c.Links[i]) < linkKey(c.Links[j]) })

	defaults, err := value.Parse(rev.Defaults)
	if err != nil {
		return "", fmt.Errorf("fingerprint defaults: %w", err)
	}
	c.Defaults = defaults

	doc, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(doc)), nil
}

func linkKey(l schema.WorkflowLink) string {
	cond, _ := l.Condition()
	return fmt.Sprintf("%010d/%010d/%t/%s", l.FromStepNo, l.ToStepNo, l.ConditionValue != nil, cond)
}
