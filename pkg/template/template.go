// Package template loads CloudFormation templates and inspects their
// declared parameters ahead of a deployment.
package template

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crofton-cloud/sitectl/pkg/errors"
)

// Parameter is one entry from a template's Parameters section.
type Parameter struct {
	Name       string
	Type       string
	HasDefault bool
}

// Template is a loaded template body plus its declared parameters.
type Template struct {
	Body       string
	Parameters []Parameter
}

// Load reads and parses a template file.
func Load(path string) (*Template, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfig, fmt.Sprintf("failed to read template %s", path), err)
	}
	tpl, err := Parse(body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeValidation, fmt.Sprintf("failed to parse template %s", path), err)
	}
	return tpl, nil
}

// Parse decodes a template body. Only the Parameters section is interpreted;
// short-form intrinsics like !Ref elsewhere in the document are left alone,
// which is why this walks the node tree instead of unmarshalling a struct.
func Parse(body []byte) (*Template, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template root must be a mapping")
	}

	tpl := &Template{Body: string(body)}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "Parameters" {
			continue
		}
		params, err := parseParameters(root.Content[i+1])
		if err != nil {
			return nil, err
		}
		tpl.Parameters = params
		break
	}
	return tpl, nil
}

func parseParameters(node *yaml.Node) ([]Parameter, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("Parameters must be a mapping")
	}

	var params []Parameter
	for i := 0; i+1 < len(node.Content); i += 2 {
		p := Parameter{Name: node.Content[i].Value}
		spec := node.Content[i+1]
		if spec.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(spec.Content); j += 2 {
				switch spec.Content[j].Value {
				case "Type":
					p.Type = spec.Content[j+1].Value
				case "Default":
					p.HasDefault = true
				}
			}
		}
		params = append(params, p)
	}
	return params, nil
}

// MissingRequired lists declared parameters with no default and no provided
// value.
func (t *Template) MissingRequired(provided map[string]string) []string {
	var missing []string
	for _, p := range t.Parameters {
		if p.HasDefault {
			continue
		}
		if _, ok := provided[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// Unknown lists provided values the template does not declare. CloudFormation
// rejects extra parameters, so these are caught before any API call.
func (t *Template) Unknown(provided map[string]string) []string {
	declared := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		declared[p.Name] = true
	}

	var unknown []string
	for name := range provided {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}
