package llm

import (
	"fmt"
	"strings"
)

// Style selects the output convention of a generated query.
type Style string

const (
	StyleSQL   Style = "sql"
	StyleRails Style = "rails"
)

// ParseStyle converts user input to a Style.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sql", "":
		return StyleSQL, nil
	case "rails", "activerecord", "active_record", "orm":
		return StyleRails, nil
	default:
		return "", fmt.Errorf("unknown query style: %q (supported: sql, rails)", s)
	}
}

// FenceTag is the markdown language tag models use for this style.
func (s Style) FenceTag() string {
	if s == StyleRails {
		return "ruby"
	}
	return "sql"
}

// Title is the heading shown above a generated query.
func (s Style) Title() string {
	if s == StyleRails {
		return "Generated Rails Active Record Query"
	}
	return "Generated SQL"
}

// ComposeInput is everything the composer embeds in the user message.
type ComposeInput struct {
	SchemaText string   // Raw schema text as pasted by the user
	Summary    string   // Rendered schema summary
	TableNames []string // Exact table names, sorted
	Request    string   // Natural language request from user
}

// Compose builds the system directive and user message for a generation.
func Compose(style Style, in ComposeInput) []Message {
	system := sqlSystemPrompt
	user := buildSQLUserPrompt(in)
	if style == StyleRails {
		system = railsSystemPrompt
		user = buildRailsUserPrompt(in)
	}

	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: user},
	}
}

// ModelName converts a table name to its Active Record model name: one
// trailing "s" is dropped (but not from "ss") and the first letter is
// capitalized. Irregular plurals are not handled.
func ModelName(table string) string {
	singular := table
	if strings.HasSuffix(singular, "s") && !strings.HasSuffix(singular, "ss") {
		singular = singular[:len(singular)-1]
	}
	if singular == "" {
		return ""
	}
	return strings.ToUpper(singular[:1]) + singular[1:]
}

// ModelNames renders the table to model name mapping disclosed to the model.
func ModelNames(tables []string) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		parts = append(parts, fmt.Sprintf("%s (from table: %s)", ModelName(t), t))
	}
	return strings.Join(parts, ", ")
}

const sqlSystemPrompt = "You are a SQL generator. Given a PostgreSQL schema and a user request, output only valid SQL without explanation. " +
	"CRITICAL RULES - FOLLOW IN ORDER: " +
	"STEP 1) TABLE NAME MAPPING (MANDATORY FIRST STEP): You MUST find the exact table name from 'AVAILABLE TABLE NAMES' that best matches the user's request. " +
	"Examples: 'organizations' -> 'accounts', 'users' -> 'accounts', 'people' -> 'accounts'. " +
	"If the user says 'organizations' but only 'accounts' exists, you MUST use 'accounts'. NEVER invent table names. " +
	"STEP 2) Keep queries SIMPLE and MINIMAL. For 'get all X' or 'list X', use SELECT * FROM [exact_table_name]. " +
	"STEP 3) Only use JOINs when explicitly needed. " +
	"STEP 4) Only specify columns when specifically requested. " +
	"STEP 5) You MUST ONLY use table/column names from the schema. " +
	"STEP 6) If a table/column doesn't exist, state the limitation clearly."

const railsSystemPrompt = "You are a Rails Active Record query generator. Given a PostgreSQL schema and a user request, output only valid Rails Active Record query code without explanation. Use Ruby syntax. " +
	"CRITICAL RULES - FOLLOW IN ORDER: " +
	"STEP 1) TABLE NAME MAPPING (MANDATORY FIRST STEP): You MUST find the exact table name from 'AVAILABLE TABLE NAMES' that best matches the user's request. " +
	"Examples: 'organizations' -> 'accounts' table -> 'Account' model, 'users' -> 'accounts' table -> 'Account' model. " +
	"Convert table name to Rails model: singular + capitalized (e.g., 'accounts' -> 'Account', 'users' -> 'User'). " +
	"If the user says 'organizations' but only 'accounts' exists, you MUST use 'Account'. NEVER invent model names. " +
	"STEP 2) Keep queries SIMPLE and MINIMAL. For 'get all X' or 'list X', use ModelName.all. " +
	"STEP 3) Only use joins (.joins, .includes, .left_joins) when explicitly needed. " +
	"STEP 4) Only use .select() when specifically requested. " +
	"STEP 5) You MUST ONLY use table/column names from the schema. " +
	"STEP 6) If a table/column doesn't exist, state the limitation clearly."

const tableIdentificationStep = "1. TABLE NAME IDENTIFICATION (REQUIRED FIRST): Look at 'AVAILABLE TABLE NAMES' above. " +
	"Find the exact table name that matches the user's request. " +
	"If user says 'organizations' but only 'accounts' exists, use 'accounts'. " +
	"If user says 'users' but only 'accounts' exists, use 'accounts'. " +
	"DO NOT use 'organizations' or 'users' if they are NOT in the list."

func writeSection(sb *strings.Builder, title, body string) {
	sb.WriteString("=== " + title + " ===\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
}

func writeContext(sb *strings.Builder, in ComposeInput, modelNames bool) {
	writeSection(sb, "AVAILABLE TABLE NAMES (USE ONLY THESE EXACT NAMES)", strings.Join(in.TableNames, ", "))
	if modelNames {
		writeSection(sb, "RAILS MODEL NAMES (convert table names: singular + capitalized)", ModelNames(in.TableNames))
	}
	writeSection(sb, "FULL SCHEMA DETAILS", in.Summary)
	writeSection(sb, "FULL SCHEMA DEFINITION", in.SchemaText)
	writeSection(sb, "USER REQUEST", in.Request)
	sb.WriteString("=== REQUIRED PROCESS (FOLLOW IN ORDER) ===\n")
}

func buildSQLUserPrompt(in ComposeInput) string {
	var sb strings.Builder
	writeContext(&sb, in, false)
	sb.WriteString(strings.Join([]string{
		tableIdentificationStep,
		"2. SIMPLICITY: For 'get all X' requests, use SELECT * FROM [exact_table_name_from_step_1].",
		"3. JOINS: Only join if explicitly needed.",
		"4. COLUMNS: Only specify columns if explicitly requested.",
		"5. VALIDATION: Double-check every table/column name exists in the schema above.",
		"6. OUTPUT: Generate only the SQL query, nothing else.",
	}, "\n"))
	return sb.String()
}

func buildRailsUserPrompt(in ComposeInput) string {
	var sb strings.Builder
	writeContext(&sb, in, true)
	sb.WriteString(strings.Join([]string{
		tableIdentificationStep,
		"2. MODEL NAME CONVERSION: Convert the table name to Rails model: singular + capitalized. Example: 'accounts' -> 'Account', 'users' -> 'User'.",
		"3. SIMPLICITY: For 'get all X' requests, use ModelName.all (e.g., Account.all).",
		"4. JOINS: Only join if explicitly needed.",
		"5. SELECT: Only use .select() if specific columns are requested.",
		"6. VALIDATION: Double-check every table/column name exists in the schema above.",
		"7. OUTPUT: Generate only the Rails Active Record query, nothing else.",
	}, "\n"))
	return sb.String()
}
