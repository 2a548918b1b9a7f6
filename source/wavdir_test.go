package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanoset"
)

func buildWavTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	entries := []struct {
		speaker, name, text string
	}{
		{"spk1", "a0001", "first utterance"},
		{"spk1", "a0002", "second utterance"},
		{"spk2", "b0001", "third utterance"},
	}
	for _, entry := range entries {
		base := filepath.Join(root, entry.speaker, entry.name)
		writeWavFixture(t, base+".wav", 16000, 1, 160, 512)
		require.NoError(t, os.WriteFile(base+".txt",
			[]byte(entry.text+"\n"), 0644))
	}
	return root
}

func TestWavDirPairsTranscripts(t *testing.T) {
	src, err := NewWavDir(buildWavTree(t), false)
	require.NoError(t, err)
	require.Equal(t, 3, src.Size())

	sample, err := src.Record(0)
	require.NoError(t, err)
	assert.Equal(t, "first utterance", sample.Text)
	assert.Empty(t, sample.Speaker)
	assert.Equal(t, 16000, sample.Audio.Rate)
	assert.Len(t, sample.Audio.Samples, 160)
}

func TestWavDirDeterministicOrder(t *testing.T) {
	root := buildWavTree(t)
	first, err := NewWavDir(root, false)
	require.NoError(t, err)
	second, err := NewWavDir(root, false)
	require.NoError(t, err)
	for idx := 0; idx < first.Size(); idx++ {
		a, err := first.Record(idx)
		require.NoError(t, err)
		b, err := second.Record(idx)
		require.NoError(t, err)
		assert.Equal(t, a.Text, b.Text)
	}
}

func TestWavDirSpeakerFromDir(t *testing.T) {
	src, err := NewWavDir(buildWavTree(t), true)
	require.NoError(t, err)

	speakers := make([]string, src.Size())
	for idx := range speakers {
		sample, err := src.Record(idx)
		require.NoError(t, err)
		speakers[idx] = sample.Speaker
	}
	assert.Equal(t, []string{"spk1", "spk1", "spk2"}, speakers)
}

func TestWavDirMissingTranscriptIsBadRecord(t *testing.T) {
	root := buildWavTree(t)
	writeWavFixture(t, filepath.Join(root, "spk2", "orphan.wav"),
		16000, 1, 160, 512)

	src, err := NewWavDir(root, false)
	require.NoError(t, err)
	require.Equal(t, 4, src.Size())

	badRecords := 0
	for idx := 0; idx < src.Size(); idx++ {
		if _, err := src.Record(idx); errors.Is(err, nanoset.ErrBadRecord) {
			badRecords++
		}
	}
	assert.Equal(t, 1, badRecords)
}

func TestWavDirEmptyTreeFails(t *testing.T) {
	_, err := NewWavDir(t.TempDir(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".wav")
}

func TestWavDirIndexOutOfRange(t *testing.T) {
	src, err := NewWavDir(buildWavTree(t), false)
	require.NoError(t, err)
	_, err = src.Record(99)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, nanoset.ErrBadRecord),
		"index bugs are not skippable records")
}
