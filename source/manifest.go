package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"nanoset"
)

// Columns maps manifest field names onto the sample fields. Text and Audio
// are required; Speaker is optional.
type Columns struct {
	Text    string
	Audio   string
	Speaker string
}

// Manifest reads samples from a line-delimited JSON manifest. The audio
// column holds a WAV path, resolved relative to the manifest file when not
// absolute. Rows are kept as raw lines; decoding is deferred to Record so
// a malformed row only costs its own sample.
type Manifest struct {
	baseDir string
	cols    Columns
	rows    [][]byte
}

// NewManifest loads the manifest rows from path.
func NewManifest(path string, cols Columns) (*Manifest, error) {
	if cols.Text == "" || cols.Audio == "" {
		return nil, fmt.Errorf(
			"manifest source requires text and audio column names")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	rows := make([][]byte, 0)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		row := make([]byte, len(scanner.Bytes()))
		copy(row, scanner.Bytes())
		rows = append(rows, row)
	}
	if err = scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s contains no manifest rows", path)
	}
	return &Manifest{
		baseDir: filepath.Dir(path),
		cols:    cols,
		rows:    rows,
	}, nil
}

// Size is the number of manifest rows.
func (m *Manifest) Size() int {
	return len(m.rows)
}

// Record decodes one manifest row and loads its audio. Rows that fail to
// parse or that are missing the mapped columns are bad records.
func (m *Manifest) Record(idx int) (*nanoset.RawSample, error) {
	if idx < 0 || idx >= len(m.rows) {
		return nil, fmt.Errorf("record index %d out of range [0,%d)",
			idx, len(m.rows))
	}
	var row map[string]interface{}
	if err := json.Unmarshal(m.rows[idx], &row); err != nil {
		return nil, fmt.Errorf("%w: manifest row %d: %v",
			nanoset.ErrBadRecord, idx, err)
	}
	text, ok := row[m.cols.Text].(string)
	if !ok {
		return nil, fmt.Errorf("%w: manifest row %d has no %q column",
			nanoset.ErrBadRecord, idx, m.cols.Text)
	}
	audioPath, ok := row[m.cols.Audio].(string)
	if !ok {
		return nil, fmt.Errorf("%w: manifest row %d has no %q column",
			nanoset.ErrBadRecord, idx, m.cols.Audio)
	}
	if !filepath.IsAbs(audioPath) {
		audioPath = filepath.Join(m.baseDir, audioPath)
	}
	audio, err := LoadWav(audioPath)
	if err != nil {
		return nil, err
	}
	sample := &nanoset.RawSample{
		Audio: audio,
		Text:  text,
	}
	if m.cols.Speaker != "" {
		if speaker, ok := row[m.cols.Speaker].(string); ok {
			sample.Speaker = speaker
		}
	}
	return sample, nil
}
