package voicepack

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openvoicepacks/ovp/internal/voice"
)

// yamlPack is the on-disk YAML shape of a voicepack. The sounds tree is a
// nested mapping of phrase ids to source text; nesting becomes directories
// in the output layout. A leaf may be a plain string or a mapping with
// explicit text and markup:
//
//	name: Example pack
//	voice:
//	  provider: piper
//	  voice: alan
//	  language: en_GB
//	sounds:
//	  system:
//	    batt_low: "Battery low"
//	    armed:
//	      text: "<speak>Armed</speak>"
//	      markup: ssml
type yamlPack struct {
	Schema      int          `yaml:"ovp_schema"`
	Name        string       `yaml:"name"`
	Packname    string       `yaml:"packname"`
	Description string       `yaml:"description"`
	Creator     string       `yaml:"creator"`
	Contact     string       `yaml:"contact"`
	Voice       voice.Model  `yaml:"voice"`
	Output      *yamlOptions `yaml:"output"`
	Sounds      yaml.Node    `yaml:"sounds"`
}

// yamlOptions is the on-disk shape of the output block. Booleans are
// pointers so an omitted key is distinguishable from an explicit false and
// keeps its default.
type yamlOptions struct {
	SampleRate  int   `yaml:"sample_rate"`
	Channels    int   `yaml:"channels"`
	BitDepth    int   `yaml:"bit_depth"`
	Normalize   *bool `yaml:"normalize"`
	Zip         *bool `yaml:"zip"`
	Checksum    *bool `yaml:"checksum"`
	Concurrency int   `yaml:"concurrency"`
}

// FromYAML parses YAML pack data into a Pack. The result is not yet
// validated; callers run Validate (the orchestrator does so as part of its
// Resolving stage).
func FromYAML(data []byte) (*Pack, error) {
	var yp yamlPack
	if err := yaml.Unmarshal(data, &yp); err != nil {
		return nil, fmt.Errorf("unable to parse pack: %w", err)
	}

	p := &Pack{
		Name:        yp.Name,
		Packname:    yp.Packname,
		Description: yp.Description,
		Creator:     yp.Creator,
		Contact:     yp.Contact,
		Voice:       yp.Voice,
		Output:      DefaultOptions(),
	}
	if yp.Output != nil {
		mergeOptions(&p.Output, *yp.Output)
	}
	if p.Packname == "" {
		p.Packname = derivePackname(p.Name)
	}

	if yp.Sounds.Kind != 0 {
		phrases, err := flattenSounds(&yp.Sounds, nil)
		if err != nil {
			return nil, err
		}
		p.Phrases = phrases
	}
	return p, nil
}

// mergeOptions overlays the fields the pack file actually sets onto dst,
// keeping firmware defaults for anything it leaves out.
func mergeOptions(dst *Options, src yamlOptions) {
	if src.SampleRate > 0 {
		dst.SampleRate = src.SampleRate
	}
	if src.Channels > 0 {
		dst.Channels = src.Channels
	}
	if src.BitDepth > 0 {
		dst.BitDepth = src.BitDepth
	}
	if src.Concurrency > 0 {
		dst.Concurrency = src.Concurrency
	}
	if src.Normalize != nil {
		dst.Normalize = *src.Normalize
	}
	if src.Zip != nil {
		dst.Zip = *src.Zip
	}
	if src.Checksum != nil {
		dst.Checksum = *src.Checksum
	}
}

// phraseLeaf is the extended form of a sounds leaf.
type phraseLeaf struct {
	Text   string `yaml:"text"`
	Markup Markup `yaml:"markup"`
}

// flattenSounds walks the nested sounds mapping depth-first, joining nested
// keys with '/'. Mapping order in the file is preserved so builds process
// phrases in the order the author wrote them.
func flattenSounds(node *yaml.Node, parents []string) ([]Phrase, error) {
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return flattenSounds(node.Content[0], parents)
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("sounds entry %q must be a mapping", joinKeys(parents))
	}

	var phrases []Phrase
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		keys := append(append([]string{}, parents...), key)

		switch val.Kind {
		case yaml.ScalarNode:
			phrases = append(phrases, Phrase{
				ID:     joinKeys(keys),
				Text:   val.Value,
				Markup: MarkupPlain,
			})
		case yaml.MappingNode:
			if isPhraseLeaf(val) {
				var leaf phraseLeaf
				if err := val.Decode(&leaf); err != nil {
					return nil, fmt.Errorf("invalid phrase %q: %w", joinKeys(keys), err)
				}
				if leaf.Markup == "" {
					leaf.Markup = MarkupPlain
				}
				phrases = append(phrases, Phrase{
					ID:     joinKeys(keys),
					Text:   leaf.Text,
					Markup: leaf.Markup,
				})
				continue
			}
			nested, err := flattenSounds(val, keys)
			if err != nil {
				return nil, err
			}
			phrases = append(phrases, nested...)
		default:
			return nil, fmt.Errorf("sounds entry %q has unsupported value type", joinKeys(keys))
		}
	}
	return phrases, nil
}

// isPhraseLeaf reports whether a mapping node is the extended phrase form
// (text/markup keys) rather than a nested directory.
func isPhraseLeaf(node *yaml.Node) bool {
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	sort.Strings(keys)
	switch len(keys) {
	case 1:
		return keys[0] == "text"
	case 2:
		return keys[0] == "markup" && keys[1] == "text"
	}
	return false
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "/"
		}
		out += k
	}
	return out
}
