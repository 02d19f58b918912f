package schema

import (
	"regexp"
	"strings"
)

// NoSchemaText is the summary returned for empty schema text.
const NoSchemaText = "No schema provided"

// Result is the output of Extract.
type Result struct {
	Summary    string
	TableNames []string
	Model      *Model
}

// Parser turns schema text into a Model. LineParser is the only
// implementation; the interface lets a stricter parser replace it without
// touching prompt composition.
type Parser interface {
	Parse(text string) *Model
}

// Extract parses schema text with LineParser and renders its summary.
func Extract(text string) Result {
	return ExtractWith(LineParser{}, text)
}

// ExtractWith parses schema text with p and renders its summary.
func ExtractWith(p Parser, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Summary: NoSchemaText, TableNames: []string{}, Model: NewModel()}
	}

	m := p.Parse(text)
	return Result{
		Summary:    m.ToText(),
		TableNames: m.TableNames(),
		Model:      m,
	}
}

const (
	quote = "[\"'`]?"
	ident = quote + `(\w+)` + quote
	// optional "schema." qualifier, dropped from the captured name
	qualifier = `(?:` + quote + `\w+` + quote + `\.)?`
	// optional "(column)" after a referenced table
	refColumn = `(?:\s*\(` + ident + `\))?`
)

var (
	createTableRe = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?` + qualifier + ident)
	columnRe      = regexp.MustCompile(`^` + ident + `\s+`)
	constraintRe  = regexp.MustCompile(`(?i)^(?:CONSTRAINT|PRIMARY|FOREIGN|KEY|UNIQUE|CHECK|INDEX)\b`)
	tablePKRe     = regexp.MustCompile(`(?i)PRIMARY\s+KEY\s*\(` + ident + `\)`)
	inlinePKRe    = regexp.MustCompile(`(?i)^` + ident + `\s+.*PRIMARY\s+KEY`)
	tableFKRe     = regexp.MustCompile(`(?i)FOREIGN\s+KEY\s*\(` + ident + `\)\s*REFERENCES\s+` + qualifier + ident + refColumn)
	inlineFKRe    = regexp.MustCompile(`(?i)^` + ident + `\s+.*REFERENCES\s+` + qualifier + ident + refColumn)
)

var reservedWords = map[string]bool{
	"CONSTRAINT": true,
	"PRIMARY":    true,
	"FOREIGN":    true,
	"KEY":        true,
	"UNIQUE":     true,
	"CHECK":      true,
	"INDEX":      true,
	"CREATE":     true,
	"ALTER":      true,
	"DROP":       true,
}

// LineParser is a lenient line-oriented extractor for CREATE TABLE statements.
// It has no notion of statement boundaries: every line after a CREATE TABLE
// belongs to that table until the next one.
type LineParser struct{}

// Parse implements Parser.
func (LineParser) Parse(text string) *Model {
	m := NewModel()
	var current *Table

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*") {
			continue
		}

		if match := createTableRe.FindStringSubmatch(trimmed); match != nil {
			current = m.startTable(match[1])
			continue
		}
		if current == nil {
			continue
		}

		if col, ok := matchColumn(trimmed); ok {
			current.addColumn(col)
		}
		if pk, ok := matchPrimaryKey(trimmed); ok {
			current.PrimaryKey = pk
		}
		if rel, ok := matchForeignKey(trimmed); ok {
			rel.FromTable = current.Name
			m.Relationships = append(m.Relationships, rel)
		}
	}

	return m
}

func matchColumn(line string) (string, bool) {
	match := columnRe.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	col := match[1]
	if reservedWords[strings.ToUpper(col)] || constraintRe.MatchString(line) {
		return "", false
	}
	return col, true
}

// matchPrimaryKey prefers a table-level PRIMARY KEY (col) over an inline
// column modifier on the same line. Composite keys match neither form.
func matchPrimaryKey(line string) (string, bool) {
	if match := tablePKRe.FindStringSubmatch(line); match != nil {
		return match[1], true
	}
	if match := inlinePKRe.FindStringSubmatch(line); match != nil && !reservedWords[strings.ToUpper(match[1])] {
		return match[1], true
	}
	return "", false
}

func matchForeignKey(line string) (Relationship, bool) {
	match := tableFKRe.FindStringSubmatch(line)
	if match == nil {
		match = inlineFKRe.FindStringSubmatch(line)
	}
	if match == nil || reservedWords[strings.ToUpper(match[1])] {
		return Relationship{}, false
	}

	toColumn := match[3]
	if toColumn == "" {
		toColumn = "id"
	}
	return Relationship{
		FromColumn: match[1],
		ToTable:    match[2],
		ToColumn:   toColumn,
	}, true
}
