// Package sink implements the persistence sinks the assembled dataset is
// handed to: a local-disk save and an S3 upload. Either may be disabled by
// configuration.
package sink

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// manifest is the metadata written next to the assembled dataset.
type manifest struct {
	Records int      `json:"records"`
	Fields  []string `json:"fields"`
	Created string   `json:"created"`
}

// Disk writes the assembled dataset to a local directory as a single
// compressed jsonl file plus a manifest.json describing it.
type Disk struct {
	Dir string

	fields  []string
	records int
	file    *os.File
	gz      *gzip.Writer
}

// Begin creates the target directory and opens the dataset file.
func (d *Disk) Begin(fields []string) error {
	if err := os.MkdirAll(d.Dir, 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(filepath.Join(d.Dir, "dataset.jsonl.gz"),
		os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	d.file = file
	d.gz = gzip.NewWriter(file)
	d.fields = fields
	d.records = 0
	return nil
}

// Write appends one record line.
func (d *Disk) Write(line []byte) error {
	if _, err := d.gz.Write(line); err != nil {
		return err
	}
	_, err := d.gz.Write([]byte{'\n'})
	if err == nil {
		d.records++
	}
	return err
}

// Close finalizes the dataset file and writes the manifest.
func (d *Disk) Close() error {
	if d.file == nil {
		return nil
	}
	gzErr := d.gz.Close()
	fileErr := d.file.Close()
	d.file = nil
	d.gz = nil
	if gzErr != nil {
		return gzErr
	}
	if fileErr != nil {
		return fileErr
	}
	meta, err := json.MarshalIndent(manifest{
		Records: d.records,
		Fields:  d.fields,
		Created: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(d.Dir, "manifest.json"), meta, 0644)
}
