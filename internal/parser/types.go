package parser

import (
	"fmt"
	"strings"
	"time"
)

// Kind names a scraper dump format.
type Kind string

const (
	KindEngagement Kind = "engagement"
	KindOutcomes   Kind = "outcomes"
)

// columns pins the JSON keys and DuckDB types of each dump so a malformed
// line yields NULLs instead of a different schema.
var columns = map[Kind]string{
	KindEngagement: `{
		topic: 'VARCHAR',
		representative_url: 'VARCHAR',
		views: 'BIGINT',
		likes: 'BIGINT',
		shares: 'BIGINT',
		comments: 'BIGINT',
		observed_at: 'TIMESTAMP',
		archived: 'BOOLEAN'
	}`,
	KindOutcomes: `{
		predicted_score: 'DOUBLE',
		actual_value: 'DOUBLE',
		reported_at: 'TIMESTAMP'
	}`,
}

// timeColumn is the column each dump is windowed and summarized by.
var timeColumn = map[Kind]string{
	KindEngagement: "observed_at",
	KindOutcomes:   "reported_at",
}

// FileStats summarizes one dump before import.
type FileStats struct {
	Rows  int
	First time.Time
	Last  time.Time
}

func (k Kind) valid() error {
	if _, ok := columns[k]; !ok {
		return fmt.Errorf("unknown dump kind %q", k)
	}
	return nil
}

// source renders the read_json table function for a path or glob.
func source(kind Kind, path string) string {
	return fmt.Sprintf(`read_json('%s',
		format = 'newline_delimited',
		union_by_name = true,
		ignore_errors = true,
		columns = %s
	)`, strings.ReplaceAll(path, "'", "''"), columns[kind])
}
