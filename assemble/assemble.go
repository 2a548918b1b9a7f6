// Package assemble merges every shard produced by every dataset run into
// one logical dataset and hands it to the configured persistence sinks.
package assemble

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"nanoset"
	"nanoset/shard"
)

// Sink receives the assembled dataset as a stream of jsonl records. Begin
// is called once with the validated field set before any record; Close
// finalizes the sink. Implementations live in the sink package.
type Sink interface {
	Begin(fields []string) error
	Write(line []byte) error
	Close() error
}

// Summary reports what was assembled.
type Summary struct {
	Shards  int
	Records int
	Fields  []string
}

// Assembler scans the output directory for shard files and concatenates
// their records in shard-discovery order (lexicographic by filename).
// Ordering across workers is therefore not original sample order; that is
// an accepted property of the pipeline.
type Assembler struct {
	// OutDir is the directory the dataset runs wrote their shards to.
	OutDir string
	// Constants are the constant column names every dataset declared;
	// they are part of the expected record schema.
	Constants []string

	Log *logrus.Entry
}

// Assemble validates every record's schema across every shard, then
// streams the records to each sink. The validation pass completes before
// any sink sees a single byte, so a schema mismatch never produces a
// partial assembled dataset.
func (a *Assembler) Assemble(sinks ...Sink) (*Summary, error) {
	log := a.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	shards, err := shard.Discover(a.OutDir)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%s contains no shard files", a.OutDir)
	}

	expected, withSpeaker := a.expectedFields()
	records := 0
	sawSpeaker := false
	for _, path := range shards {
		scanErr := shard.Scan(path, func(line []byte) error {
			fields, fieldErr := fieldSet(line)
			if fieldErr != nil {
				return fmt.Errorf("%s record %d: %w", path, records,
					fieldErr)
			}
			if fields == expected {
				// base schema plus constants
			} else if fields == withSpeaker {
				sawSpeaker = true
			} else {
				return fmt.Errorf(
					"%s record %d: schema mismatch: got [%s], want [%s]",
					path, records, fields, expected)
			}
			records++
			return nil
		})
		if scanErr != nil {
			return nil, scanErr
		}
	}
	log.WithFields(logrus.Fields{
		"shards":  len(shards),
		"records": records,
	}).Info("assembly validation passed")

	fields := expected
	if sawSpeaker {
		fields = withSpeaker
	}
	fieldList := strings.Split(fields, ",")
	for _, s := range sinks {
		if err = s.Begin(fieldList); err != nil {
			return nil, err
		}
	}
	for _, path := range shards {
		scanErr := shard.Scan(path, func(line []byte) error {
			for _, s := range sinks {
				if writeErr := s.Write(line); writeErr != nil {
					return writeErr
				}
			}
			return nil
		})
		if scanErr != nil {
			return nil, scanErr
		}
	}
	for _, s := range sinks {
		if err = s.Close(); err != nil {
			return nil, err
		}
	}
	return &Summary{
		Shards:  len(shards),
		Records: records,
		Fields:  fieldList,
	}, nil
}

// expectedFields builds the two acceptable schemas as canonical
// comma-joined sorted strings: base plus constants, with and without the
// optional speaker passthrough.
func (a *Assembler) expectedFields() (string, string) {
	base := append([]string{}, nanoset.BaseFields...)
	base = append(base, a.Constants...)
	sort.Strings(base)
	withSpeaker := append(append([]string{}, base...), "speaker")
	sort.Strings(withSpeaker)
	return strings.Join(base, ","), strings.Join(withSpeaker, ",")
}

func fieldSet(line []byte) (string, error) {
	var rec map[string]json.RawMessage
	if err := json.Unmarshal(line, &rec); err != nil {
		return "", err
	}
	fields := make([]string, 0, len(rec))
	for key := range rec {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return strings.Join(fields, ","), nil
}
