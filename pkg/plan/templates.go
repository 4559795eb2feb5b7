package plan

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ghostpay/brain/pkg/intent"
)

// stepTemplate describes one step of a static plan template: an action,
// a description, a slot-to-parameter mapping, dependency indices into
// the same template's step list, and the two dispatch flags.
type stepTemplate struct {
	Action                   StepAction `yaml:"action"`
	Description              string     `yaml:"description"`
	ParameterSlots           []string   `yaml:"parameter_slots"`
	DependsOnIndices         []int      `yaml:"depends_on_indices"`
	RequiresRemoteVerification bool     `yaml:"requires_remote_verification"`
	Optional                 bool       `yaml:"optional"`
	SensitiveForApproval     bool       `yaml:"sensitive_for_approval"`
	ApprovalRule             string     `yaml:"approval_rule"`
}

// defaultApprovalRule gates a sensitive step behind everything except an
// explicit confirmation_mode of "never".
const defaultApprovalRule = `input.sensitive && input.confirmation_mode != "never"`

type planTemplate struct {
	Action intent.Action  `yaml:"action"`
	Steps  []stepTemplate `yaml:"steps"`
}

//go:embed templates.yaml
var templatesYAML []byte

// TemplateRegistry is a read-only, startup-loaded mapping from intent
// action to an ordered list of step templates.
type TemplateRegistry struct {
	templates map[intent.Action]planTemplate
}

func LoadDefaultTemplates() (*TemplateRegistry, error) {
	var raw struct {
		Templates []planTemplate `yaml:"templates"`
	}
	if err := yaml.Unmarshal(templatesYAML, &raw); err != nil {
		return nil, fmt.Errorf("plan: failed to parse template registry: %w", err)
	}

	reg := &TemplateRegistry{templates: make(map[intent.Action]planTemplate, len(raw.Templates))}
	for _, t := range raw.Templates {
		reg.templates[t.Action] = t
	}
	return reg, nil
}

func (r *TemplateRegistry) Lookup(action intent.Action) (planTemplate, bool) {
	t, ok := r.templates[action]
	return t, ok
}
