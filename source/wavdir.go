package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yargevad/filepathx"

	"nanoset"
)

type wavEntry struct {
	wavPath string
	txtPath string
	speaker string
}

// WavDir reads samples from a directory tree of `.wav` files, each paired
// with a `.txt` transcript sidecar of the same basename. Files are ordered
// lexicographically so partitioning is deterministic across runs.
type WavDir struct {
	entries []wavEntry
}

// NewWavDir recursively scans root for WAV files. With speakerFromDir set,
// each sample's speaker is the name of its immediate parent directory.
func NewWavDir(root string, speakerFromDir bool) (*WavDir, error) {
	matches, err := filepathx.Glob(root + "/**/*.wav")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s does not contain any .wav files", root)
	}
	sort.Strings(matches)
	entries := make([]wavEntry, len(matches))
	for matchIdx := range matches {
		wavPath := matches[matchIdx]
		entry := wavEntry{
			wavPath: wavPath,
			txtPath: strings.TrimSuffix(wavPath, ".wav") + ".txt",
		}
		if speakerFromDir {
			entry.speaker = filepath.Base(filepath.Dir(wavPath))
		}
		entries[matchIdx] = entry
	}
	return &WavDir{entries: entries}, nil
}

// Size is the number of discovered WAV files.
func (d *WavDir) Size() int {
	return len(d.entries)
}

// Record reads and decodes one sample. A missing transcript or an
// undecodable WAV is a bad record, skipped by the reader.
func (d *WavDir) Record(idx int) (*nanoset.RawSample, error) {
	if idx < 0 || idx >= len(d.entries) {
		return nil, fmt.Errorf("record index %d out of range [0,%d)",
			idx, len(d.entries))
	}
	entry := d.entries[idx]
	text, err := os.ReadFile(entry.txtPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no transcript",
				nanoset.ErrBadRecord, entry.wavPath)
		}
		return nil, err
	}
	audio, err := LoadWav(entry.wavPath)
	if err != nil {
		return nil, err
	}
	return &nanoset.RawSample{
		Audio:   audio,
		Text:    strings.TrimRight(string(text), "\n"),
		Speaker: entry.speaker,
	}, nil
}
