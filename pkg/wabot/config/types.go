package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Keyword maps a trigger substring to a canned response.
type Keyword struct {
	Keyword  string `yaml:"keyword"`
	Response string `yaml:"response"`
}

// KeywordTable is an ordered list of keywords. In YAML it is written either
// as a mapping (document order is kept) or as a list of
// {keyword, response} entries.
type KeywordTable []Keyword

// UnmarshalYAML decodes a mapping or sequence node, preserving order.
func (t *KeywordTable) UnmarshalYAML(node *yaml.Node) error {
	table := KeywordTable{}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var kw Keyword
			if err := node.Content[i].Decode(&kw.Keyword); err != nil {
				return fmt.Errorf("line %d: keyword: %w", node.Content[i].Line, err)
			}
			if err := node.Content[i+1].Decode(&kw.Response); err != nil {
				return fmt.Errorf("line %d: response for %q: %w", node.Content[i+1].Line, kw.Keyword, err)
			}
			table = append(table, kw)
		}

	case yaml.SequenceNode:
		for _, item := range node.Content {
			var kw Keyword
			if err := item.Decode(&kw); err != nil {
				return fmt.Errorf("line %d: keyword entry: %w", item.Line, err)
			}
			table = append(table, kw)
		}

	case yaml.ScalarNode:
		if node.Tag != "!!null" {
			return fmt.Errorf("line %d: keywords must be a mapping or a list", node.Line)
		}

	default:
		return fmt.Errorf("line %d: keywords must be a mapping or a list", node.Line)
	}

	*t = table
	return nil
}

// MarshalYAML writes the table as an ordered mapping.
func (t KeywordTable) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, kw := range t {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kw.Keyword},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: kw.Response},
		)
	}
	return node, nil
}

// Millis is a duration expressed in milliseconds. YAML accepts an integer
// number of milliseconds or a Go duration string such as "1h30m".
type Millis int64

// MaxMillis is the largest Millis that fits in a time.Duration.
const MaxMillis = Millis(math.MaxInt64 / int64(time.Millisecond))

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// UnmarshalYAML decodes an integer or a duration string.
func (m *Millis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected milliseconds or a duration", node.Line)
	}
	s := strings.TrimSpace(node.Value)
	if s == "" {
		*m = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = Millis(n)
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	if d > 0 && d < time.Millisecond {
		return fmt.Errorf("line %d: duration %q is below the 1ms resolution", node.Line, s)
	}
	*m = Millis(d / time.Millisecond)
	return nil
}

// LoadError reports a configuration that could not be read, parsed or
// validated. It is always fatal at startup.
type LoadError struct {
	// Path is the config file, if known.
	Path string
	// Field is the offending key, e.g. "auto_send.messages[0].to".
	Field string
	// Msg describes the problem.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

func fieldError(field, msg string) *LoadError {
	return &LoadError{Field: field, Msg: msg}
}
