// Package bundle reads workflow bundle files and imports them into the
// store. A bundle holds one workflow, the revision to make current, its test
// scenarios and any records those scenarios reference.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/rendis/stepflow/internal/validation"
	"github.com/rendis/stepflow/internal/value"
	"github.com/rendis/stepflow/pkg/schema"
)

// Format is the encoding of a bundle file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Bundle is a decoded bundle document.
type Bundle struct {
	Workflow  schema.Workflow                `json:"workflow"`
	Revision  schema.WorkflowRevision        `json:"revision"`
	Scenarios []*schema.WorkflowTestScenario `json:"scenarios,omitempty"`
	Records   []Record                       `json:"records,omitempty"`

	// Path is the file the bundle was read from, if any.
	Path string `json:"-"`
}

// Record is a row of the records table bundled for record-sourced scenarios.
type Record struct {
	Table string     `json:"table"`
	ID    string     `json:"id"`
	Data  value.Vars `json:"data"`
}

// Loader decodes and validates bundle documents.
type Loader struct {
	schema *validation.JSONSchemaValidator
}

// NewLoader creates a Loader.
func NewLoader(v *validation.JSONSchemaValidator) *Loader {
	return &Loader{schema: v}
}

// FormatOf picks the format from a file extension. Unknown extensions are
// read as YAML, which also accepts JSON.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads and decodes one bundle file.
func (l *Loader) LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read bundle %s: %s", path, err.Error()).WithCause(err)
	}
	b, err := l.Decode(data, FormatOf(path))
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeValidation)
		cp := *fe
		cp.Message = path + ": " + fe.Message
		return nil, &cp
	}
	b.Path = path
	return b, nil
}

// Decode parses a bundle document, checks it against the bundle schema and
// fills defaults. YAML scalars keep their written text, so a decimal 3.50
// in a fixture stays 3.50.
func (l *Loader) Decode(data []byte, format Format) (*Bundle, error) {
	doc, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}
	if err := l.schema.ValidateBundle(doc); err != nil {
		return nil, err
	}

	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode bundle: %s", err.Error()).WithCause(err)
	}
	b.normalize()
	return &b, nil
}

func toJSON(data []byte, format Format) ([]byte, error) {
	if format == FormatJSON {
		return data, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse yaml: %s", err.Error()).WithCause(err)
	}
	v, err := value.FromYAML(&node)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse yaml: %s", err.Error()).WithCause(err)
	}
	return json.Marshal(v)
}

// normalize ties scenarios to the workflow and defaults assertion polarity.
func (b *Bundle) normalize() {
	b.Revision.WorkflowID = b.Workflow.ID
	for _, sc := range b.Scenarios {
		sc.WorkflowID = b.Workflow.ID
		for i := range sc.Assertions {
			if sc.Assertions[i].Polarity == "" {
				sc.Assertions[i].Polarity = schema.PolarityPositive
			}
		}
	}
}

// Expand resolves doublestar glob patterns ("flows/**/*.yaml") into a
// sorted, de-duplicated file list. A pattern without glob characters must
// name an existing file.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "bad pattern %q: %s", pattern, err.Error()).WithCause(err)
		}
		if len(matches) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no bundle files match %q", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func (b *Bundle) String() string {
	return fmt.Sprintf("bundle %s (%d steps, %d scenarios)", b.Workflow.ID, len(b.Revision.Steps), len(b.Scenarios))
}
