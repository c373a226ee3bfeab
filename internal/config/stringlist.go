package config

import (
	"gopkg.in/yaml.v3"

	"github.com/prettymuchbryce/treewatch/internal/glob"
	"github.com/prettymuchbryce/treewatch/internal/pathutil"
)

// StringList handles YAML fields that can be a single string or a list of strings.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch {
	case value.Tag == "!!null":
		*s = nil
		return nil
	case value.Kind == yaml.ScalarNode:
		*s = StringList{value.Value}
		return nil
	}

	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// IncludeList holds include patterns. Each item is either a glob string or a
// {base, pattern} mapping that only applies beneath base.
type IncludeList []glob.RelativePattern

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	items := []*yaml.Node{value}
	if value.Kind == yaml.SequenceNode {
		items = value.Content
	}

	patterns := make(IncludeList, 0, len(items))
	for _, item := range items {
		if item.Kind == yaml.ScalarNode {
			patterns = append(patterns, glob.RelativePattern{Pattern: item.Value})
			continue
		}
		var rp glob.RelativePattern
		if err := item.Decode(&rp); err != nil {
			return err
		}
		rp.Base = pathutil.ExpandTilde(rp.Base)
		patterns = append(patterns, rp)
	}
	*l = patterns
	return nil
}
