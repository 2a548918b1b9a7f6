package sink

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Client is the slice of the S3 API this sink needs; it is satisfied by
// *s3.S3 and mocked in tests.
type S3Client interface {
	PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

// S3 uploads the assembled dataset to an object store under
// `bucket/prefix`. Records are spooled to a temporary compressed file and
// uploaded on Close, so a failed assembly never leaves a partial object.
type S3 struct {
	Client S3Client
	Bucket string
	Prefix string

	fields  []string
	records int
	spool   *os.File
	gz      *gzip.Writer
}

// ParseDestination splits a `bucket/prefix` destination string.
func ParseDestination(dest string) (bucket, prefix string, err error) {
	parts := strings.SplitN(dest, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid s3 destination %q", dest)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func (u *S3) key(name string) string {
	if u.Prefix == "" {
		return name
	}
	return u.Prefix + "/" + name
}

// Begin opens the local spool file.
func (u *S3) Begin(fields []string) error {
	spool, err := os.CreateTemp("", "nanoset-s3-*.jsonl.gz")
	if err != nil {
		return err
	}
	u.spool = spool
	u.gz = gzip.NewWriter(spool)
	u.fields = fields
	u.records = 0
	return nil
}

// Write appends one record line to the spool.
func (u *S3) Write(line []byte) error {
	if _, err := u.gz.Write(line); err != nil {
		return err
	}
	_, err := u.gz.Write([]byte{'\n'})
	if err == nil {
		u.records++
	}
	return err
}

// Close finalizes the spool and uploads the dataset and its manifest.
func (u *S3) Close() error {
	if u.spool == nil {
		return nil
	}
	spool := u.spool
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
		u.spool = nil
		u.gz = nil
	}()
	if err := u.gz.Close(); err != nil {
		return err
	}
	if _, err := spool.Seek(0, 0); err != nil {
		return err
	}
	if _, err := u.Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(u.key("dataset.jsonl.gz")),
		Body:   spool,
	}); err != nil {
		return fmt.Errorf("uploading dataset: %w", err)
	}
	meta, err := json.MarshalIndent(manifest{
		Records: u.records,
		Fields:  u.fields,
		Created: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	if _, err = u.Client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(u.key("manifest.json")),
		Body:   bytes.NewReader(meta),
	}); err != nil {
		return fmt.Errorf("uploading manifest: %w", err)
	}
	return nil
}
