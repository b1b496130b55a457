package organize

import (
	"downsort/internal/errors"
)

// Rule pairs a filename pattern with the actions to run on a match.
// Rules are built once at configuration load and never modified, so a
// rule list can be shared by any number of concurrent Handle calls.
type Rule struct {
	Name    string
	Pattern *Pattern
	Actions []Action
}

// NewRule validates and builds a rule.
func NewRule(name string, pattern *Pattern, actions ...Action) (Rule, error) {
	if pattern == nil {
		return Rule{}, errors.NewRuleError("rule has no pattern", name, errors.InvalidRule, nil)
	}
	if len(actions) == 0 {
		return Rule{}, errors.NewRuleError("rule has no actions", name, errors.InvalidRule, nil)
	}
	for i, a := range actions {
		if a == nil {
			return Rule{}, errors.NewRuleError("rule has a nil action", name, errors.InvalidRule, nil)
		}
		if err := validateAction(a); err != nil {
			return Rule{}, errors.NewRuleError("invalid action", name, errors.InvalidRule, errors.Wrapf(err, "action %d", i))
		}
	}
	acts := make([]Action, len(actions))
	copy(acts, actions)
	return Rule{Name: name, Pattern: pattern, Actions: acts}, nil
}

func validateAction(a Action) error {
	switch a := a.(type) {
	case Move:
		if a.Dest == "" {
			return errors.New("move needs a destination")
		}
		if a.Duplicate != RenameDate && a.Duplicate != Overwrite {
			return errors.Newf("unknown duplicate policy %d", int(a.Duplicate))
		}
	case Unzip:
		if a.Dest == "" {
			return errors.New("unzip needs a destination")
		}
	case Delete:
	default:
		return errors.Newf("unsupported action %T", a)
	}
	return nil
}

// Match returns the index of the first rule whose pattern matches
// filename, or -1 when none does.
func Match(rules []Rule, filename string) int {
	for i := range rules {
		if rules[i].Pattern.Matches(filename) {
			return i
		}
	}
	return -1
}
