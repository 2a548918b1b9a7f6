package nanoset

import "errors"

// Result is the per-sample outcome of a batch encode. A sample the codec
// rejects carries its error here; the rest of the batch is unaffected.
type Result struct {
	Layers TokenLayers
	Len    int
	Err    error
}

// Codec is the contract with the external neural codec. Implementations
// perform one-time model initialization; Encode is assumed stateless across
// calls after that. The result slice is positionally aligned with the input
// batch. A non-nil error means the whole batch failed.
type Codec interface {
	Encode(batch []Audio) ([]Result, error)
	Close() error
}

// ShardWriter is the append-only, rotating output a single encoder worker
// owns. Implementations live in the shard package; the interface is defined
// here at the consumer.
type ShardWriter interface {
	Write(sample *EncodedSample) error
	Close() error
	// Shards and Bytes report the files finalized so far and their
	// combined on-disk size.
	Shards() int
	Bytes() int64
}

// ErrBadRecord marks a single malformed source record. Readers skip and
// count these; any other source error is fatal to the reader.
var ErrBadRecord = errors.New("bad record")

// Source is a finite, lazily read sequence of raw records, partitionable by
// index. Implementations live in the source package.
type Source interface {
	Size() int
	Record(idx int) (*RawSample, error)
}
