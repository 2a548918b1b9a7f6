package nanoset

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineConfig carries the per-run pipeline knobs. Datasets are processed
// one at a time through one Pipeline each, so peak memory is bounded by a
// single dataset's in-flight queue contents.
type PipelineConfig struct {
	NumReaders   int
	QueueSize    int
	BatchSize    int
	BatchTimeout time.Duration
	Devices      []int
	Sanitize     bool
	Constants    map[string]string
}

// Stats aggregates per-worker counters for one dataset run.
type Stats struct {
	Read           int64
	ReadSkipped    int64
	Encoded        int64
	EncodeSkipped  int64
	ReaderFailures int
	WorkerFailures int
	Shards         int
	Bytes          int64
}

// Skipped is the combined count of dropped samples across both stages.
func (s *Stats) Skipped() int64 {
	return s.ReadSkipped + s.EncodeSkipped
}

// Snapshot is a point-in-time view of pipeline progress, assembled by the
// coordinator from per-worker counters. Workers never share mutable state;
// the coordinator polls their atomic counters.
type Snapshot struct {
	Read    int64
	Encoded int64
	Queued  int
}

// Pipeline coordinates one dataset run: it starts the reader pool and the
// encoder pool, waits for every encoder to terminate, and aggregates the
// per-worker counters.
type Pipeline struct {
	Config PipelineConfig

	// NewCodec constructs the codec for one worker; device is -1 for the
	// CPU fallback worker.
	NewCodec func(device int) (Codec, error)
	// NewWriter constructs the rotating shard writer owned by one worker.
	NewWriter func(worker int) (ShardWriter, error)
	// Progress, when set, receives periodic snapshots until the run ends.
	Progress func(Snapshot)
	// ProgressInterval defaults to 500ms.
	ProgressInterval time.Duration

	Log *logrus.Entry
}

func (p *Pipeline) validate() error {
	if p.Config.NumReaders <= 0 {
		return fmt.Errorf("num_readers must be positive, got %d",
			p.Config.NumReaders)
	}
	if p.Config.QueueSize <= 0 {
		return fmt.Errorf("qsize must be positive, got %d",
			p.Config.QueueSize)
	}
	if p.Config.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d",
			p.Config.BatchSize)
	}
	if p.NewCodec == nil || p.NewWriter == nil {
		return fmt.Errorf("pipeline requires codec and writer factories")
	}
	return nil
}

// Run processes one source to completion and returns the dataset-level
// statistics. Completion means: every reader has delivered its sentinel,
// the queue has drained, and every encoder has terminated.
func (p *Pipeline) Run(src Source) (*Stats, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	log := p.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	batchTimeout := p.Config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 200 * time.Millisecond
	}

	q := NewQueue(p.Config.QueueSize, p.Config.NumReaders)
	opts := ReaderOptions{
		Sanitize:  p.Config.Sanitize,
		Constants: p.Config.Constants,
	}
	readers, readersDone := startReaders(p.Config.NumReaders, src, q, opts,
		log)
	encoders, encodersDone := startEncoders(p.Config.Devices, q, p.NewCodec,
		p.NewWriter, EncoderOptions{
			BatchSize:    p.Config.BatchSize,
			BatchTimeout: batchTimeout,
		}, log)

	stopProgress := p.watchProgress(readers, encoders, q)

	// Encoder termination implies the readers are done and the queue has
	// drained, but join the readers explicitly so their final counters are
	// settled before aggregation.
	readersDone.Wait()
	encodersDone.Wait()
	stopProgress()

	stats := &Stats{}
	for _, reader := range readers {
		stats.Read += reader.Read()
		stats.ReadSkipped += reader.Skipped()
		if reader.Failure() != nil {
			stats.ReaderFailures++
		}
	}
	for _, encoder := range encoders {
		stats.Encoded += encoder.Encoded()
		stats.EncodeSkipped += encoder.Skipped()
		if encoder.Failure() != nil {
			stats.WorkerFailures++
		}
		if writer := encoder.Writer(); writer != nil {
			stats.Shards += writer.Shards()
			stats.Bytes += writer.Bytes()
		}
	}
	return stats, nil
}

// watchProgress polls worker counters on a ticker and feeds the Progress
// callback. The returned stop function delivers one final snapshot.
func (p *Pipeline) watchProgress(readers []*Reader, encoders []*Encoder,
	q *Queue) func() {
	if p.Progress == nil {
		return func() {}
	}
	interval := p.ProgressInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	snapshot := func() Snapshot {
		snap := Snapshot{Queued: q.Len()}
		for _, reader := range readers {
			snap.Read += reader.Read()
		}
		for _, encoder := range encoders {
			snap.Encoded += encoder.Encoded()
		}
		return snap
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Progress(snapshot())
			case <-done:
				p.Progress(snapshot())
				return
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
