package alerts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	masterdata "hydroponics-cloud/internal/masterdata/domain"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// Kind tells whether a rule drives actuators or only warns.
type Kind string

const (
	KindControl Kind = "control"
	KindWarning Kind = "warning"
)

// Correction is the action taken in one direction.
type Correction struct {
	Action string          `yaml:"action"`
	Role   masterdata.Role `yaml:"role"`
}

// Rule describes how one reading field is checked.
//
// A rule compares against the group's control target when Threshold is set, against a fixed
// range when Min or Max is set, and against a set of bad states when Categories is set.
type Rule struct {
	Parameter  string            `yaml:"parameter"`
	Label      string            `yaml:"label"`
	Kind       Kind              `yaml:"kind"`
	Threshold  float64           `yaml:"threshold"`
	Min        *float64          `yaml:"min"`
	Max        *float64          `yaml:"max"`
	Categories map[string]string `yaml:"categories"`
	Increase   Correction        `yaml:"increase"`
	Decrease   Correction        `yaml:"decrease"`
	Disabled   bool              `yaml:"disabled"`
}

// Categorical reports whether the rule matches text states.
func (r Rule) Categorical() bool {
	return len(r.Categories) > 0
}

// Ranged reports whether the rule checks a fixed range.
func (r Rule) Ranged() bool {
	return !r.Categorical() && (r.Min != nil || r.Max != nil)
}

// Controls reports whether the rule may issue actuator commands.
func (r Rule) Controls() bool {
	return r.Kind == KindControl
}

// CorrectionFor returns the correction whose action matches.
func (r Rule) CorrectionFor(action string) (Correction, bool) {
	switch action {
	case r.Increase.Action:
		return r.Increase, true
	case r.Decrease.Action:
		return r.Decrease, true
	}
	return Correction{}, false
}

func (r Rule) validate() error {
	if r.Parameter == "" {
		return errors.New("alert rule: empty parameter")
	}
	if r.Kind != KindControl && r.Kind != KindWarning {
		return fmt.Errorf("alert rule %s: invalid kind %q", r.Parameter, r.Kind)
	}
	if r.Categorical() {
		if r.Kind == KindControl {
			return fmt.Errorf("alert rule %s: categorical rules are warning only", r.Parameter)
		}
		return nil
	}
	if r.Increase.Action == "" || r.Decrease.Action == "" {
		return fmt.Errorf("alert rule %s: increase and decrease actions required", r.Parameter)
	}
	if r.Ranged() {
		if r.Kind == KindControl {
			return fmt.Errorf("alert rule %s: range rules are warning only", r.Parameter)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("alert rule %s: min above max", r.Parameter)
		}
		return nil
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("alert rule %s: threshold must be positive", r.Parameter)
	}
	if r.Kind == KindControl && (r.Increase.Role == "" || r.Decrease.Role == "") {
		return fmt.Errorf("alert rule %s: control rules need actuator roles", r.Parameter)
	}
	return nil
}

// Override adjusts a rule for one group. Zero values keep the default.
type Override struct {
	Threshold float64  `yaml:"threshold"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	Disabled  *bool    `yaml:"disabled"`
}

// Profile is the set of rules and their per-group overrides, keyed by "{userId}/{groupId}".
type Profile struct {
	Rules  []Rule                         `yaml:"rules"`
	Groups map[string]map[string]Override `yaml:"groups"`
}

// DefaultProfile returns the embedded reference profile.
func DefaultProfile() *Profile {
	profile, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("alerts: embedded profile invalid: %v", err))
	}
	return profile
}

// LoadProfile reads a profile file. Rules missing from the file are taken from the default
// profile; an empty path yields the default profile.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	profile, err := ParseProfile(data)
	if err != nil {
		return nil, err
	}
	return profile.withDefaults(DefaultProfile()), nil
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("alerts: decode profile: %w", err)
	}
	seen := make(map[string]struct{}, len(profile.Rules))
	for i := range profile.Rules {
		rule := &profile.Rules[i]
		rule.Kind = Kind(strings.ToLower(string(rule.Kind)))
		if rule.Kind == "" {
			rule.Kind = KindWarning
		}
		if rule.Label == "" {
			rule.Label = rule.Parameter
		}
		if err := rule.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[rule.Parameter]; dup {
			return nil, fmt.Errorf("alerts: duplicate rule for %s", rule.Parameter)
		}
		seen[rule.Parameter] = struct{}{}
	}
	return &profile, nil
}

func (p *Profile) withDefaults(defaults *Profile) *Profile {
	present := make(map[string]struct{}, len(p.Rules))
	for _, rule := range p.Rules {
		present[rule.Parameter] = struct{}{}
	}
	merged := &Profile{Groups: p.Groups}
	for _, rule := range defaults.Rules {
		if _, ok := present[rule.Parameter]; ok {
			continue
		}
		merged.Rules = append(merged.Rules, rule)
	}
	merged.Rules = append(merged.Rules, p.Rules...)
	return merged
}

// RulesFor returns the rules of a group with its overrides applied.
func (p *Profile) RulesFor(userID, groupID string) []Rule {
	if p == nil {
		return nil
	}
	overrides := p.Groups[userID+"/"+groupID]
	rules := make([]Rule, 0, len(p.Rules))
	for _, rule := range p.Rules {
		if override, ok := overrides[rule.Parameter]; ok {
			rule = mergeRule(rule, override)
		}
		if rule.Disabled {
			continue
		}
		rules = append(rules, rule)
	}
	return rules
}

func mergeRule(base Rule, override Override) Rule {
	if override.Threshold > 0 {
		base.Threshold = override.Threshold
	}
	if override.Min != nil {
		v := *override.Min
		base.Min = &v
	}
	if override.Max != nil {
		v := *override.Max
		base.Max = &v
	}
	if override.Disabled != nil {
		base.Disabled = *override.Disabled
	}
	return base
}
