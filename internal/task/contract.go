package task

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/apibench/internal/api"
)

// Contract is a task's static text: everything a backend implementer
// receives. Prelude and Postlude frame the rendered endpoint list.
type Contract struct {
	Name     string
	Prelude  string
	API      []api.Description
	Postlude string
}

// APIDescription returns the endpoint list. Satisfies backend.Contract.
func (c *Contract) APIDescription() []api.Description { return c.API }

// Prompt assembles the full implementation prompt: prelude, rendered
// endpoint list, postlude.
func (c *Contract) Prompt() string {
	var b strings.Builder
	b.WriteString(c.Prelude)
	b.WriteString("\n\n")
	b.WriteString(api.Render(c.API))
	b.WriteString("\n")
	b.WriteString(c.Postlude)
	b.WriteString("\n")
	return b.String()
}

// LoadContract parses CUE source into a Contract.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The source must define a top-level contract struct:
//
//	contract: {
//		name:     "list-append"
//		prelude:  "..."
//		postlude: "..."
//		api: [{name: "append", method: "POST", text: "..."}]
//	}
//
// Endpoint entries pass through api.NewDescription, so a loaded contract
// obeys the same validation as a hand-built one.
func LoadContract(src []byte) (*Contract, error) {
	v := cuecontext.New().CompileBytes(src)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("contract"))
	if !root.Exists() {
		return nil, &ContractError{
			Field:   "contract",
			Message: "top-level contract struct is required",
			Pos:     v.Pos(),
		}
	}

	c := &Contract{}
	var err error
	if c.Name, err = requiredText(root, "name"); err != nil {
		return nil, err
	}
	if c.Prelude, err = requiredText(root, "prelude"); err != nil {
		return nil, err
	}
	if c.Postlude, err = requiredText(root, "postlude"); err != nil {
		return nil, err
	}

	apiVal := root.LookupPath(cue.ParsePath("api"))
	if !apiVal.Exists() {
		return nil, &ContractError{
			Field:   "api",
			Message: "endpoint list is required",
			Pos:     root.Pos(),
		}
	}
	iter, err := apiVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d, err := parseEndpoint(iter.Value())
		if err != nil {
			return nil, err
		}
		c.API = append(c.API, d)
	}
	if len(c.API) == 0 {
		return nil, &ContractError{
			Field:   "api",
			Message: "at least one endpoint is required",
			Pos:     apiVal.Pos(),
		}
	}

	return c, nil
}

// parseEndpoint builds one api.Description from a CUE list element.
func parseEndpoint(v cue.Value) (api.Description, error) {
	name, err := requiredText(v, "name")
	if err != nil {
		return api.Description{}, err
	}
	methodStr, err := requiredText(v, "method")
	if err != nil {
		return api.Description{}, err
	}
	text, err := requiredText(v, "text")
	if err != nil {
		return api.Description{}, err
	}

	method, err := api.ParseMethod(methodStr)
	if err != nil {
		return api.Description{}, &ContractError{
			Field:   fmt.Sprintf("api.%s.method", name),
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	d, err := api.NewDescription(name, method, text)
	if err != nil {
		return api.Description{}, &ContractError{
			Field:   "api." + name,
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}
	return d, nil
}

// requiredText reads a required string field and normalizes it. An empty
// value after normalization is rejected.
func requiredText(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &ContractError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	s = api.NormalizeText(s)
	if s == "" {
		return "", &ContractError{
			Field:   field,
			Message: field + " must not be empty",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// mustContract parses an embedded contract. The built-in contracts ship
// with the binary, so a parse failure is a programmer error.
func mustContract(src []byte) *Contract {
	c, err := LoadContract(src)
	if err != nil {
		panic(fmt.Sprintf("task: invalid embedded contract: %v", err))
	}
	return c
}

// ContractError represents a contract definition error with source position.
type ContractError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ContractError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &ContractError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
