// Package schema extracts table structure from pasted DDL text for LLM context.
package schema

import (
	"sort"
	"strings"
)

// Model holds the tables and relationships found in a schema text.
type Model struct {
	Tables        []*Table
	Relationships []Relationship
	index         map[string]*Table
}

// Table represents a table declared with CREATE TABLE.
type Table struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	PrimaryKey string   `json:"primaryKey,omitempty"`
}

// Relationship represents a foreign key reference between two tables.
type Relationship struct {
	FromTable  string `json:"fromTable"`
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{index: make(map[string]*Table)}
}

// Table returns the table with the exact given name.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.index[name]
	return t, ok
}

// TableNames returns the table names sorted lexicographically.
func (m *Model) TableNames() []string {
	names := make([]string, 0, len(m.Tables))
	for _, t := range m.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// startTable begins a table block. A name seen before keeps its position
// but loses its previous columns and primary key.
func (m *Model) startTable(name string) *Table {
	if t, ok := m.index[name]; ok {
		t.Columns = nil
		t.PrimaryKey = ""
		return t
	}
	t := &Table{Name: name}
	m.index[name] = t
	m.Tables = append(m.Tables, t)
	return t
}

func (t *Table) addColumn(col string) {
	for _, c := range t.Columns {
		if c == col {
			return
		}
	}
	t.Columns = append(t.Columns, col)
}

// ToText serializes the model to the summary format used in prompts.
func (m *Model) ToText() string {
	var sb strings.Builder
	sb.WriteString("AVAILABLE TABLE NAMES (use ONLY these exact names): ")
	sb.WriteString(strings.Join(m.TableNames(), ", "))
	sb.WriteString("\n\nAvailable Tables and Columns:\n")

	if len(m.Tables) == 0 {
		sb.WriteString(noTablesText)
	}
	for _, t := range m.Tables {
		sb.WriteString(tableToText(t))
	}

	if len(m.Relationships) > 0 {
		sb.WriteString("\n\nTable Relationships:\n")
		for _, r := range m.Relationships {
			sb.WriteString(relationshipToText(r))
		}
	}
	return sb.String()
}

const noTablesText = "No tables found in schema. Please ensure the schema contains CREATE TABLE statements."

func tableToText(t *Table) string {
	var sb strings.Builder
	sb.WriteString("\nTable: " + t.Name + "\n")
	if t.PrimaryKey != "" {
		sb.WriteString("  Primary Key: " + t.PrimaryKey + "\n")
	}
	if len(t.Columns) == 0 {
		sb.WriteString("  Columns: (none found)\n")
	} else {
		sb.WriteString("  Columns: " + strings.Join(t.Columns, ", ") + "\n")
	}
	return sb.String()
}

func relationshipToText(r Relationship) string {
	from := r.FromTable + "." + r.FromColumn
	to := r.ToTable + "." + r.ToColumn
	return "\n" + from + " -> " + to + "\n  (Join: " + from + " = " + to + ")\n"
}
