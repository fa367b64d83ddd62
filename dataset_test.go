package faqtune

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSplit(t *testing.T, dir string, split Split, csv string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(split)+".csv"), []byte(csv), 0o644))
}

func TestReadExamples(t *testing.T) {
	t.Run("ordered", func(t *testing.T) {
		dir := t.TempDir()
		writeSplit(t, dir, TrainSplit,
			"title,reply,is_best\n"+
				"how do i reset my password,click forgot password,1\n"+
				"how do i reset my password,no idea sorry,0\n"+
				"what is the refund policy,30 days,1\n")
		examples, err := ReadExamples(dir, TrainSplit)
		require.NoError(t, err)
		require.Len(t, examples, 3)
		assert.Equal(t, Example{GUID: 0, Title: "how do i reset my password", Reply: "click forgot password", Label: 1}, examples[0])
		assert.Equal(t, 1, examples[1].GUID)
		assert.Equal(t, 0, examples[1].Label)
		assert.Equal(t, "30 days", examples[2].Reply)
	})

	t.Run("numericCellsStayText", func(t *testing.T) {
		dir := t.TempDir()
		writeSplit(t, dir, DevSplit, "title,reply,is_best\n42,3.14,0\n")
		examples, err := ReadExamples(dir, DevSplit)
		require.NoError(t, err)
		require.Len(t, examples, 1)
		assert.Equal(t, "42", examples[0].Title)
		assert.Equal(t, "3.14", examples[0].Reply)
	})

	t.Run("extraColumnIgnored", func(t *testing.T) {
		dir := t.TempDir()
		writeSplit(t, dir, TrainSplit, "title,reply,is_best,source\na,b,1,web\n")
		examples, err := ReadExamples(dir, TrainSplit)
		require.NoError(t, err)
		require.Len(t, examples, 1)
	})

	t.Run("missingFile", func(t *testing.T) {
		_, err := ReadExamples(t.TempDir(), TrainSplit)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "train")
	})

	t.Run("missingColumn", func(t *testing.T) {
		dir := t.TempDir()
		writeSplit(t, dir, TrainSplit, "title,reply\na,b\n")
		_, err := ReadExamples(dir, TrainSplit)
		require.Error(t, err)
	})
}

func TestLabels(t *testing.T) {
	assert.Equal(t, []int{0, 1}, Labels())
}
