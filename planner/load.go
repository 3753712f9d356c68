package planner

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/buildbuildio/quarry/respath"
)

type exportDocument struct {
	Variable string `yaml:"variable"`
	Path     string `yaml:"path"`
}

type scrubDocument struct {
	Path     string   `yaml:"path"`
	Typename string   `yaml:"typename"`
	Fields   []string `yaml:"fields"`
}

type stepDocument struct {
	Kind          Kind                   `yaml:"kind"`
	Source        string                 `yaml:"source"`
	Mount         string                 `yaml:"mount"`
	Query         string                 `yaml:"query"`
	Selection     string                 `yaml:"selection"`
	OperationName string                 `yaml:"operation_name"`
	Variables     map[string]interface{} `yaml:"variables"`
	VariableTypes map[string]string      `yaml:"variable_types"`
	Requires      []string               `yaml:"requires"`
	Exports       []exportDocument       `yaml:"exports"`
	Typename      string                 `yaml:"typename"`
	KeyFields     []string               `yaml:"key_fields"`
	KeysFrom      string                 `yaml:"keys_from"`
	Steps         []stepDocument         `yaml:"steps"`
}

type planDocument struct {
	Root        *stepDocument   `yaml:"root"`
	Scrub       []scrubDocument `yaml:"scrub"`
	Nullability map[string]bool `yaml:"nullability"`
}

// Document is a plan read from YAML together with the client nullability
// overrides stored next to it.
type Document struct {
	Plan        *QueryPlan
	Nullability map[string]bool
}

// LoadPlan reads a YAML plan document:
//
//	root:
//	  kind: sequence
//	  steps:
//	    - kind: resolve
//	      source: accounts
//	      query: "{ viewer { userId } }"
//	      exports: [{variable: userId, path: viewer.userId}]
//	    - kind: entity_batch
//	      source: reviews
//	      typename: User
//	      key_fields: [id]
//	      keys_from: reviews.*.author
//	      selection: "{ name }"
//	scrub:
//	  - {path: reviews.author, fields: [id]}
//	nullability:
//	  viewer.userId: true
func LoadPlan(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc planDocument
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan document is empty")
		}
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if doc.Root == nil {
		return nil, errors.New("plan document has no root step")
	}

	root, err := doc.Root.step("root")
	if err != nil {
		return nil, err
	}

	var scrub ScrubFields
	if len(doc.Scrub) > 0 {
		scrub = make(ScrubFields)
		for _, s := range doc.Scrub {
			p, err := respath.Parse(s.Path)
			if err != nil {
				return nil, fmt.Errorf("scrub path %q: %w", s.Path, err)
			}
			for _, f := range s.Fields {
				scrub.Set(p.Fields(), s.Typename, f)
			}
		}
	}

	plan, err := NewQueryPlan(root, scrub)
	if err != nil {
		return nil, err
	}

	return &Document{Plan: plan, Nullability: doc.Nullability}, nil
}

// LoadPlanFile reads the plan document at path.
func LoadPlanFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := LoadPlan(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (d *stepDocument) step(at string) (*Step, error) {
	mount, err := respath.Parse(d.Mount)
	if err != nil {
		return nil, fmt.Errorf("%s: mount: %w", at, err)
	}
	keysFrom, err := respath.Parse(d.KeysFrom)
	if err != nil {
		return nil, fmt.Errorf("%s: keys_from: %w", at, err)
	}

	s := &Step{
		Kind:          d.Kind,
		Source:        d.Source,
		MountPath:     mount,
		QueryString:   d.Query,
		OperationName: d.OperationName,
		Variables:     d.Variables,
		VariableTypes: d.VariableTypes,
		Requires:      d.Requires,
		Typename:      d.Typename,
		KeyFields:     d.KeyFields,
		KeysFrom:      keysFrom,
	}

	if d.Selection != "" {
		sel, _, err := parseSelectionSet(d.Selection)
		if err != nil {
			return nil, fmt.Errorf("%s: selection: %w", at, err)
		}
		s.SelectionSet = sel
	}

	for _, e := range d.Exports {
		p, err := respath.Parse(e.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: export %s: %w", at, e.Variable, err)
		}
		s.Exports = append(s.Exports, Export{Variable: e.Variable, Path: p})
	}

	for i := range d.Steps {
		child, err := d.Steps[i].step(fmt.Sprintf("%s.steps[%d]", at, i))
		if err != nil {
			return nil, err
		}
		s.Steps = append(s.Steps, child)
	}

	return s, nil
}
