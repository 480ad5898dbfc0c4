package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step is a single entry of a stage's task list. In the environment file it
// is either a bare task name or a single key map of name to parameters:
//
//	tasks:
//	  on-deploy:
//	    - composer/install
//	    - shell/exec:
//	        command: php artisan migrate
type Step struct {
	Name       string
	Parameters map[string]any
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		if name == "" {
			return fmt.Errorf("line %d: empty task name", node.Line)
		}
		s.Name = name
		s.Parameters = nil
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: task entry must have exactly one name", node.Line)
		}
		var name string
		if err := node.Content[0].Decode(&name); err != nil {
			return err
		}

		var params map[string]any
		if v := node.Content[1]; !(v.Kind == yaml.ScalarNode && v.Tag == "!!null") {
			if err := v.Decode(&params); err != nil {
				return fmt.Errorf("line %d: parameters of %s: %w", v.Line, name, err)
			}
		}
		s.Name = name
		s.Parameters = params
		return nil
	}

	return fmt.Errorf("line %d: cannot unmarshal task entry", node.Line)
}
