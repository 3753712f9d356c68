package planner

import (
	"errors"
	"fmt"
)

// Validate checks the shape of a plan: no step is reachable twice, leaf steps
// name exactly one source and carry a selection, composite steps name none.
func Validate(root *Step) error {
	if root == nil {
		return errors.New("plan has no root step")
	}

	var errs []error
	seen := make(map[*Step]string)

	var walk func(s *Step, at string)
	walk = func(s *Step, at string) {
		if s == nil {
			errs = append(errs, fmt.Errorf("%s: step is nil", at))
			return
		}
		if first, ok := seen[s]; ok {
			errs = append(errs, fmt.Errorf("%s: step already reachable at %s", at, first))
			return
		}
		seen[s] = at

		switch s.Kind {
		case KindResolve, KindEntityBatch:
			if s.Source == "" {
				errs = append(errs, fmt.Errorf("%s: %s step must name a source", at, s.Kind))
			}
			if len(s.Steps) > 0 {
				errs = append(errs, fmt.Errorf("%s: %s step cannot have child steps", at, s.Kind))
			}
			if len(s.SelectionSet) == 0 && s.QueryString == "" {
				errs = append(errs, fmt.Errorf("%s: %s step selects nothing", at, s.Kind))
			}
		case KindSequence, KindParallel:
			if s.Source != "" {
				errs = append(errs, fmt.Errorf("%s: %s step cannot name a source", at, s.Kind))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown step kind %q", at, s.Kind))
		}

		if s.Kind == KindEntityBatch {
			if s.Typename == "" {
				errs = append(errs, fmt.Errorf("%s: entity batch must name a typename", at))
			}
			if len(s.KeyFields) == 0 {
				errs = append(errs, fmt.Errorf("%s: entity batch must name key fields", at))
			}
			if s.KeysFrom.IsRoot() {
				errs = append(errs, fmt.Errorf("%s: entity batch must read keys below the root", at))
			}
		}

		if s.Kind == KindResolve && s.MountPath.IsPattern() {
			errs = append(errs, fmt.Errorf("%s: resolve mount path %s cannot contain wildcards", at, s.MountPath))
		}

		for i, child := range s.Steps {
			walk(child, fmt.Sprintf("%s.steps[%d]", at, i))
		}
	}
	walk(root, "root")

	return errors.Join(errs...)
}
