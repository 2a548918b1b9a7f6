package shard

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/yargevad/filepathx"

	"nanoset"
)

// maxLineSize bounds a single jsonl record; token sequences for long audio
// run to tens of thousands of integers.
const maxLineSize = 64 * 1024 * 1024

// Discover returns every shard file under dir, recursively, in
// lexicographic order. This is the assembly order of the final dataset.
func Discover(dir string) ([]string, error) {
	matches, err := filepathx.Glob(dir + "/**/*.jsonl.gz")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Scan decompresses one shard file and invokes fn with each raw jsonl line.
// A shard written by this package always terminates cleanly; a truncated
// gzip stream from a crashed run surfaces here as an error.
func Scan(path string, fn func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer gz.Close()
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 1024*1024), maxLineSize)
	for scanner.Scan() {
		if err = fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// record mirrors the serialized sample for validation.
type record struct {
	Text       *string `json:"text"`
	NanoLayer1 []int32 `json:"nano_layer_1"`
	NanoLayer2 []int32 `json:"nano_layer_2"`
	NanoLayer3 []int32 `json:"nano_layer_3"`
	NanoLayer4 []int32 `json:"nano_layer_4"`
	EncodedLen int     `json:"encoded_len"`
}

// Validate checks that one shard file is well formed: the compressed stream
// ends cleanly and every record parses with equal-length, non-empty token
// layers matching its declared encoded_len. It returns the record count.
func Validate(path string) (int, error) {
	records := 0
	err := Scan(path, func(line []byte) error {
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("%s record %d: %w", path, records, err)
		}
		if rec.Text == nil {
			return fmt.Errorf("%s record %d: missing text field",
				path, records)
		}
		layers := [nanoset.NumLayers][]int32{
			rec.NanoLayer1, rec.NanoLayer2, rec.NanoLayer3, rec.NanoLayer4,
		}
		if rec.EncodedLen <= 0 {
			return fmt.Errorf("%s record %d: encoded_len %d not positive",
				path, records, rec.EncodedLen)
		}
		for layerIdx := range layers {
			if len(layers[layerIdx]) != rec.EncodedLen {
				return fmt.Errorf(
					"%s record %d: nano_layer_%d has %d tokens, "+
						"encoded_len is %d",
					path, records, layerIdx+1, len(layers[layerIdx]),
					rec.EncodedLen)
			}
		}
		records++
		return nil
	})
	return records, err
}
