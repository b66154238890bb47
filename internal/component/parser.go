package component

import (
	"fmt"
	"regexp"
	"strings"
)

// Section header keywords, case-sensitive.
const (
	sectionImports   = "Imports"
	sectionFunctions = "Funcoes"
	sectionHTML      = "Html"
	sectionCSS       = "Css"
)

var (
	headerPattern    = regexp.MustCompile(`^\s*(Imports|Funcoes|Html|Css):(.*)$`)
	directivePattern = regexp.MustCompile(`^\s*#\s*@([\w.-]+):\s*(.*?)\s*$`)
)

// Directive is one pre-header `# @key: value` metadata line. Directives are
// consumed by the routing layer (middleware and guard hints); the compiler
// only collects them.
type Directive struct {
	Key   string
	Value string
}

// Parsed is the section breakdown of one component source.
type Parsed struct {
	Imports    string // Optional: interpreter require/setup code
	Functions  string // Optional: interpreter logic code
	HTML       string // Mandatory markup template
	CSS        string // Optional inline style text
	Directives []Directive
}

// Directive returns the value of the first directive with the given key.
func (p *Parsed) Directive(key string) (string, bool) {
	for _, d := range p.Directives {
		if d.Key == key {
			return d.Value, true
		}
	}
	return "", false
}

// ParseErrorKind classifies section parse failures.
type ParseErrorKind int

const (
	// MissingHtmlSection means the source has no non-empty Html section.
	MissingHtmlSection ParseErrorKind = iota
	// DuplicateSection means a header keyword opened a second section.
	DuplicateSection
)

func (k ParseErrorKind) String() string {
	switch k {
	case MissingHtmlSection:
		return "missing Html section"
	case DuplicateSection:
		return "duplicate section"
	default:
		return "parse error"
	}
}

// ParseError is a terminal section parse failure.
type ParseError struct {
	Kind    ParseErrorKind
	Section string // Offending section keyword, if any
	Line    int    // 1-based line of the offending header, 0 if none
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("component parse: %s (%s, line %d)", e.Kind, e.Section, e.Line)
	}
	return fmt.Sprintf("component parse: %s", e.Kind)
}

// Parse splits raw component text into sections and directives.
//
// Lines are scanned top to bottom. A header line (`Imports:`, `Funcoes:`,
// `Html:`, `Css:`, optionally indented) opens its section; text after the
// colon is the first body line, and the body runs until the next header or
// end of input. Comment lines before the first header that match
// `# @key: value` are collected as directives; other pre-header lines are
// ignored. Section order is irrelevant. Each keyword may open at most one
// section, and a non-whitespace Html body is mandatory.
func Parse(raw string) (*Parsed, error) {
	parsed := &Parsed{}
	seen := map[string]bool{}

	var current string
	var body []string

	flush := func() {
		if current == "" {
			return
		}
		text := strings.Join(body, "\n")
		switch current {
		case sectionImports:
			parsed.Imports = text
		case sectionFunctions:
			parsed.Functions = text
		case sectionHTML:
			parsed.HTML = text
		case sectionCSS:
			parsed.CSS = text
		}
		body = nil
	}

	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			name := m[1]
			if seen[name] {
				return nil, &ParseError{Kind: DuplicateSection, Section: name, Line: i + 1}
			}
			seen[name] = true
			flush()
			current = name
			// Text after the colon is the section's first body line.
			first := strings.TrimSpace(m[2])
			if first != "" {
				body = append(body, first)
			}
			continue
		}
		if current == "" {
			// Pre-header region: collect directive comments, ignore the rest.
			if m := directivePattern.FindStringSubmatch(line); m != nil {
				parsed.Directives = append(parsed.Directives, Directive{Key: m[1], Value: m[2]})
			}
			continue
		}
		body = append(body, line)
	}
	flush()

	if strings.TrimSpace(parsed.HTML) == "" {
		return nil, &ParseError{Kind: MissingHtmlSection}
	}
	return parsed, nil
}
