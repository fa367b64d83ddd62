package faqtune

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// Split names the two dataset partitions.
type Split string

const (
	TrainSplit Split = "train"
	DevSplit   Split = "dev"
)

// Example is one labeled (title, reply) pair, immutable once read.
type Example struct {
	GUID  int
	Title string
	Reply string
	Label int
}

// faqRow mirrors one CSV record. Text columns stay strings even when a cell
// happens to hold a number.
type faqRow struct {
	Title  string `csv:"title"`
	Reply  string `csv:"reply"`
	IsBest int    `csv:"is_best"`
}

// Labels returns the fixed label space of the task.
func Labels() []int {
	return []int{0, 1}
}

// splitPath maps a split to its CSV file under dir.
func splitPath(dir string, split Split) string {
	return filepath.Join(dir, string(split)+".csv")
}

// ReadExamples reads the ordered examples of a split from <dir>/<split>.csv.
// A missing file or a missing column is an error for the caller; nothing is
// recovered here.
func ReadExamples(dir string, split Split) ([]Example, error) {
	path := splitPath(dir, split)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s split: %w", split, err)
	}
	defer f.Close()
	// a header without title/reply/is_best is an error, not a zero value
	gocsv.FailIfUnmatchedStructTags = true
	var rows []*faqRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	examples := make([]Example, 0, len(rows))
	for i, row := range rows {
		examples = append(examples, Example{
			GUID:  i,
			Title: row.Title,
			Reply: row.Reply,
			Label: row.IsBest,
		})
	}
	return examples, nil
}
