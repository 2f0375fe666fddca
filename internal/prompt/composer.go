// Package prompt assembles the instruction text sent to the generation model.
package prompt

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sqlscribe/sqlscribe/internal/observability"
	"github.com/sqlscribe/sqlscribe/internal/schema"
)

const DefaultDialect = "PostgreSQL"

const (
	primaryKeysHeading   = "Primary keys are as follows:"
	schemaHeading        = "Schema context:"
	relationshipsHeading = "Relationship context:"
	queryHeading         = "User query:"
)

type Input struct {
	Query         string
	Schema        []string
	Relationships []string
}

type PrimaryKey struct {
	Table  string
	Column string
}

type Prompt struct {
	Text        string
	PrimaryKeys []PrimaryKey
	Chars       int
	OverBudget  bool
}

// Composer renders prompts. There is no hard cap on prompt size: large
// stores can produce long prompts, so a soft budget is logged and counted
// instead of truncating context the model needs.
type Composer struct {
	dialect  string
	maxChars int
	logger   *slog.Logger
}

func NewComposer(dialect string, maxChars int, logger *slog.Logger) *Composer {
	dialect = strings.TrimSpace(dialect)
	if dialect == "" {
		dialect = DefaultDialect
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Composer{dialect: dialect, maxChars: maxChars, logger: logger}
}

// Compose always renders every section, with an empty body when its source
// is empty.
func (c *Composer) Compose(ctx context.Context, in Input) Prompt {
	keys := PrimaryKeyHints(in.Schema)
	hintLines := make([]string, 0, len(keys))
	for _, key := range keys {
		hintLines = append(hintLines, "Table: "+key.Table+" - Primary Key: "+key.Column)
	}

	var b strings.Builder
	b.WriteString("You are an expert ")
	b.WriteString(c.dialect)
	b.WriteString(" database developer. Below is the schema and relationship information for the database. ")
	b.WriteString("Based on this information, generate an optimized and correct SQL SELECT query that answers the following user query:\n\n")
	writeSection(&b, primaryKeysHeading, hintLines)
	writeSection(&b, schemaHeading, in.Schema)
	writeSection(&b, relationshipsHeading, in.Relationships)
	writeSection(&b, queryHeading, []string{in.Query})
	b.WriteString("Ensure the SQL query is syntactically correct and optimized. Do not execute it, just provide the query.\n")

	text := b.String()
	chars := utf8.RuneCountInString(text)
	over := c.maxChars > 0 && chars > c.maxChars
	observability.ObservePromptSize(chars, over)
	if over {
		c.logger.WarnContext(ctx, "prompt exceeds soft budget",
			observability.TraceAttr(ctx),
			slog.Int("chars", chars),
			slog.Int("budget", c.maxChars),
			slog.Int("schema_fragments", len(in.Schema)),
			slog.Int("relationship_fragments", len(in.Relationships)),
		)
	}
	return Prompt{Text: text, PrimaryKeys: keys, Chars: chars, OverBudget: over}
}

func writeSection(b *strings.Builder, heading string, lines []string) {
	b.WriteString(heading)
	b.WriteByte('\n')
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n\n")
}

// PrimaryKeyHints picks the fragments carrying schema.PrimaryKeyMarker and
// reads table and column from their first two fields. Fragments without the
// marker are skipped.
func PrimaryKeyHints(fragments []string) []PrimaryKey {
	keys := make([]PrimaryKey, 0)
	seen := make(map[PrimaryKey]struct{})
	for _, fragment := range fragments {
		if !strings.Contains(fragment, schema.PrimaryKeyMarker) {
			continue
		}
		fields := strings.Fields(fragment)
		if len(fields) < 3 || !strings.Contains(strings.Join(fields[2:], " "), schema.PrimaryKeyMarker) {
			continue
		}
		key := PrimaryKey{Table: fields[0], Column: fields[1]}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}
