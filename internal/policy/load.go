package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/lifeline/internal/nlp"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML policy file and layers it over Defaults. Lists in the
// file replace the default lists; map entries are merged key by key.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.With("path", path).Errorf("failed to read policy file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	return p, nil
}

// Parse decodes YAML policy content over Defaults and validates the result.
func Parse(data []byte) (*Policy, error) {
	p := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, oops.Errorf("failed to parse YAML policy: %w", err)
	}

	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks struct constraints and the cross references between
// checklists, inferences, procedures and services.
func Validate(p *Policy) error {
	if err := validate.Struct(p); err != nil {
		return oops.Errorf("failed to validate policy: %w", err)
	}

	var errs []error

	if _, ok := p.Checklists[string(nlp.CategoryGeneral)]; !ok {
		errs = append(errs, errors.New("checklists: a general checklist is required"))
	}
	if _, ok := p.Services[string(nlp.CategoryGeneral)]; !ok {
		errs = append(errs, errors.New("services: a general service is required"))
	}

	known := make(map[string]bool)
	for cat, qs := range p.Checklists {
		seen := make(map[string]bool, len(qs))
		for _, q := range qs {
			if seen[q.Key] {
				errs = append(errs, fmt.Errorf("checklists.%s: duplicate question %q", cat, q.Key))
			}
			seen[q.Key] = true
			known[q.Key] = true
		}
	}

	for i, inf := range p.Inferences {
		if !known[inf.Key] {
			errs = append(errs, fmt.Errorf("inferences[%d]: key %q is not a checklist question", i, inf.Key))
		}
	}

	names := make(map[string]bool, len(p.Procedures))
	for i, pr := range p.Procedures {
		if names[pr.Name] {
			errs = append(errs, fmt.Errorf("procedures[%d]: duplicate name %q", i, pr.Name))
		}
		names[pr.Name] = true
		if len(pr.Triggers) == 0 && len(pr.When) == 0 {
			errs = append(errs, fmt.Errorf("procedures[%d] %q: needs triggers or when", i, pr.Name))
		}
		for k := range pr.When {
			if !known[k] {
				errs = append(errs, fmt.Errorf("procedures[%d] %q: when key %q is not a checklist question", i, pr.Name, k))
			}
		}
	}

	if len(errs) > 0 {
		return oops.Errorf("invalid policy: %w", errors.Join(errs...))
	}
	return nil
}

// Marshal renders p as YAML.
func Marshal(p *Policy) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, oops.Errorf("failed to encode policy: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, oops.Errorf("failed to encode policy: %w", err)
	}
	return buf.Bytes(), nil
}
