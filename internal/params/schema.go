package params

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/quakerun/internal/ir"
)

//go:embed schema.cue
var schemaSource string

// FormatError reports parameters whose values do not match the schema.
type FormatError struct {
	Problems []string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid parameters: %s", strings.Join(e.Problems, "; "))
}

// Schema validates parameter values against the embedded CUE schema.
// A Schema is not safe for concurrent use.
type Schema struct {
	ctx *cue.Context
	def cue.Value
}

// NewSchema compiles the embedded schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Parameters"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile parameter schema: #Parameters not defined")
	}
	return &Schema{ctx: ctx, def: def}, nil
}

// Validate checks the format of every known key present in p.
func (s *Schema) Validate(p ir.ParameterSet) error {
	v := s.def.Unify(s.ctx.Encode(map[string]string(p)))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var problems []string
	seen := map[string]bool{}
	for _, e := range errors.Errors(err) {
		path := e.Path()
		if len(path) == 0 {
			continue
		}
		key := path[len(path)-1]
		if seen[key] {
			continue
		}
		seen[key] = true
		problems = append(problems, fmt.Sprintf("%s=%q", key, p[key]))
	}
	if len(problems) == 0 {
		problems = append(problems, err.Error())
	}
	return &FormatError{Problems: problems}
}
