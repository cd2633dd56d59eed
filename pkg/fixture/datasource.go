package fixture

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Row maps column names to values.
type Row map[string]any

// RowSpec is one row to insert, identified by an alias unique within its
// fixture.
type RowSpec struct {
	Alias  string
	Values Row
}

// DataSource yields the rows of a fixture in insertion order.
type DataSource interface {
	Rows() ([]RowSpec, error)
}

// InlineSource is a DataSource held in memory.
type InlineSource []RowSpec

func (s InlineSource) Rows() ([]RowSpec, error) { return s, nil }

// FileSource reads rows from a YAML file whose top level maps row aliases to
// column maps:
//
//	fr:
//	  code: FR
//	  name: France
//	de:
//	  code: DE
//	  name: Germany
//
// Rows keep the order of the file.
type FileSource struct {
	Path string
}

func (s FileSource) Rows() ([]RowSpec, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read fixture data: %w", err)
	}
	rows, err := parseRows(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return rows, nil
}

func parseRows(data []byte) ([]RowSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("top level must be a mapping of row alias to columns")
	}

	rows := make([]RowSpec, 0, len(root.Content)/2)
	seen := make(map[string]bool, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		alias := root.Content[i].Value
		if seen[alias] {
			return nil, fmt.Errorf("line %d: duplicate row %q", root.Content[i].Line, alias)
		}
		seen[alias] = true

		var values Row
		if err := root.Content[i+1].Decode(&values); err != nil {
			return nil, fmt.Errorf("row %q: %w", alias, err)
		}
		if values == nil {
			values = Row{}
		}
		rows = append(rows, RowSpec{Alias: alias, Values: values})
	}
	return rows, nil
}
