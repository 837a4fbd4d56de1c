// Package api defines the endpoint contract types shared by tasks and
// backend adapters.
//
// A Description is one endpoint of a task's API: a snake_case name, an HTTP
// method, and the behavior text shown to whoever implements the backend.
// Descriptions are immutable once constructed; NewDescription is the only
// way to obtain one and validates every field, so a Description that exists
// is always well formed.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Method is the HTTP method of an endpoint. Only GET and POST are valid;
// the harness drives generated services through a deliberately small verb set.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// ParseMethod converts a string to a Method, rejecting anything outside
// the allowed set. Matching is exact: "get" is not a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodGet, MethodPost:
		return Method(s), nil
	default:
		return "", fmt.Errorf("invalid method %q (want GET or POST)", s)
	}
}

// namePattern enforces snake_case endpoint names: a lowercase letter
// followed by lowercase letters, digits, or underscores.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Description is one endpoint contract: name, method, and behavior text.
//
// Fields are unexported so a Description cannot drift from its validated
// form after construction. Use the accessors.
type Description struct {
	name   string
	method Method
	text   string
}

// NewDescription validates and constructs an endpoint description.
//
// The name must match ^[a-z][a-z0-9_]*$. The method must be GET or POST.
// The text is normalized (Unicode NFC, trailing whitespace stripped per
// line, outer blank lines removed) and must be non-empty afterwards.
// Invalid input returns an error; nothing is coerced.
func NewDescription(name string, method Method, text string) (Description, error) {
	if !namePattern.MatchString(name) {
		return Description{}, fmt.Errorf("invalid endpoint name %q: must match %s", name, namePattern)
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return Description{}, fmt.Errorf("endpoint %q: %w", name, err)
	}
	normalized := NormalizeText(text)
	if normalized == "" {
		return Description{}, fmt.Errorf("endpoint %q: description text is empty", name)
	}
	return Description{name: name, method: method, text: normalized}, nil
}

// Name returns the endpoint name (snake_case identifier).
func (d Description) Name() string { return d.name }

// Method returns the HTTP method.
func (d Description) Method() Method { return d.method }

// Text returns the normalized behavior text.
func (d Description) Text() string { return d.text }

// Path returns the URL path the harness calls for this endpoint.
func (d Description) Path() string { return "/api/" + d.name }

// MarshalJSON serializes a Description for artifacts and golden files.
// Key order is fixed: name, method, text.
func (d Description) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		Name   string `json:"name"`
		Method Method `json:"method"`
		Text   string `json:"text"`
	}{d.name, d.method, d.text})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// NormalizeText canonicalizes contract text at the construction boundary:
// Unicode NFC normalization, trailing spaces and tabs stripped from each
// line, and leading/trailing blank lines removed. Interior structure is
// preserved so multi-line endpoint descriptions render faithfully.
func NormalizeText(s string) string {
	lines := strings.Split(norm.NFC.String(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	start := 0
	for start < len(lines) && lines[start] == "" {
		start++
	}
	end := len(lines)
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Render produces the endpoint list as a prompt fragment, one entry per
// endpoint:
//
//	- POST /api/append: Accepts a list of transactions.
//	  Continuation lines are indented under their entry.
//
// The output is deterministic for a given slice, so it is safe to golden-test
// and stable across runs.
func Render(descs []Description) string {
	var b strings.Builder
	for _, d := range descs {
		lines := strings.Split(d.text, "\n")
		fmt.Fprintf(&b, "- %s %s: %s\n", d.method, d.Path(), lines[0])
		for _, line := range lines[1:] {
			if line == "" {
				b.WriteString("\n")
				continue
			}
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}
