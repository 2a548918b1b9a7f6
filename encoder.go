package nanoset

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// EncoderOptions bound how encoder workers batch queued samples: a batch is
// dispatched to the codec when it reaches BatchSize or when BatchTimeout
// elapses with samples waiting, whichever comes first.
type EncoderOptions struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// Encoder is one codec worker. It exclusively owns one accelerator device
// (Device is -1 for the CPU fallback worker) and one shard writer for its
// process lifetime.
type Encoder struct {
	ID     int
	Device int

	state   StateVar
	encoded int64
	skipped int64
	writer  ShardWriter
	failure error

	// degraded drops samples instead of encoding them. A worker whose
	// codec failed to initialize or whose writer failed must still consume
	// the queue, or the readers would block forever on a full queue.
	degraded bool
}

// Encoded is the count of samples this worker has written.
func (e *Encoder) Encoded() int64 {
	return atomic.LoadInt64(&e.encoded)
}

// Skipped counts samples dropped by this worker, whether rejected by the
// codec, invalid, or discarded while degraded.
func (e *Encoder) Skipped() int64 {
	return atomic.LoadInt64(&e.skipped)
}

// State reports the worker's lifecycle state.
func (e *Encoder) State() WorkerState {
	return e.state.State()
}

// Failure is the fatal error that degraded this worker, if any.
func (e *Encoder) Failure() error {
	return e.failure
}

// Writer exposes the worker's shard writer for stats aggregation.
func (e *Encoder) Writer() ShardWriter {
	return e.writer
}

func (e *Encoder) fail(err error, log *logrus.Entry, msg string) {
	if e.failure == nil {
		e.failure = err
	}
	e.degraded = true
	log.WithError(err).Error(msg)
}

// run consumes the queue until it is closed and drained, batching samples
// and handing encodings to the worker's shard writer.
func (e *Encoder) run(q *Queue, codec Codec, initErr error,
	opts EncoderOptions, log *logrus.Entry) {
	if initErr != nil {
		e.fail(initErr, log, "codec initialization failed, "+
			"worker will drain and discard")
	}
	e.state.MustTransition(Starting, Running)

	batch := make([]*RawSample, 0, opts.BatchSize)
	closed := false
	for !closed {
		sample, ok := q.Get()
		if !ok {
			closed = true
			break
		}
		if e.degraded {
			atomic.AddInt64(&e.skipped, 1)
			continue
		}
		batch = append(batch, sample)
		timer := time.NewTimer(opts.BatchTimeout)
	accumulate:
		for len(batch) < opts.BatchSize {
			select {
			case next, more := <-q.Items():
				if !more {
					closed = true
					break accumulate
				}
				batch = append(batch, next)
			case <-timer.C:
				break accumulate
			}
		}
		timer.Stop()
		if !closed {
			e.encodeBatch(codec, batch, log)
			batch = batch[:0]
		}
	}

	// The queue is closed and drained; flush the partial batch, then
	// finalize the writer.
	e.state.MustTransition(Running, Draining)
	if len(batch) > 0 && !e.degraded {
		e.encodeBatch(codec, batch, log)
	}
	if e.writer != nil {
		if err := e.writer.Close(); err != nil {
			e.fail(err, log, "closing shard writer")
		}
	}
	if codec != nil {
		if err := codec.Close(); err != nil {
			log.WithError(err).Warn("closing codec")
		}
	}
	e.state.MustTransition(Draining, Terminated)
	log.WithFields(logrus.Fields{
		"encoded": e.Encoded(),
		"skipped": e.Skipped(),
	}).Debug("encoder terminated")
}

// encodeBatch invokes the codec on one batch and writes every valid result.
// A sample the codec rejects, or one that comes back empty or with
// misaligned layers, is skipped and counted; it never aborts the batch.
func (e *Encoder) encodeBatch(codec Codec, batch []*RawSample,
	log *logrus.Entry) {
	audios := make([]Audio, len(batch))
	for sampleIdx := range batch {
		audios[sampleIdx] = batch[sampleIdx].Audio
	}
	results, err := codec.Encode(audios)
	if err != nil {
		atomic.AddInt64(&e.skipped, int64(len(batch)))
		log.WithError(err).WithField("batch", len(batch)).
			Error("batch encode failed, dropping batch")
		return
	}
	if len(results) != len(batch) {
		atomic.AddInt64(&e.skipped, int64(len(batch)))
		log.WithFields(logrus.Fields{
			"batch": len(batch), "results": len(results),
		}).Error("codec returned misaligned batch, dropping")
		return
	}
	for sampleIdx := range results {
		if e.degraded {
			atomic.AddInt64(&e.skipped, 1)
			continue
		}
		result := &results[sampleIdx]
		if result.Err != nil {
			atomic.AddInt64(&e.skipped, 1)
			log.WithError(result.Err).Warn("codec rejected sample")
			continue
		}
		sample := batch[sampleIdx]
		encoded := &EncodedSample{
			Text:       sample.Text,
			Layers:     result.Layers,
			EncodedLen: result.Len,
			Speaker:    sample.Speaker,
			Extra:      sample.Extra,
		}
		if !encoded.Valid() {
			atomic.AddInt64(&e.skipped, 1)
			log.Warn("empty or misaligned encoding, skipping sample")
			continue
		}
		if writeErr := e.writer.Write(encoded); writeErr != nil {
			atomic.AddInt64(&e.skipped, 1)
			e.fail(writeErr, log, "shard write failed, "+
				"worker will drain and discard")
			continue
		}
		atomic.AddInt64(&e.encoded, 1)
	}
}

// startEncoders launches one worker per device, or a single CPU worker when
// no devices are visible. Codec and writer construction happen inside the
// worker goroutine so a failed device does not stall its siblings.
func startEncoders(devices []int, q *Queue,
	newCodec func(device int) (Codec, error),
	newWriter func(worker int) (ShardWriter, error),
	opts EncoderOptions, log *logrus.Entry) ([]*Encoder, *sync.WaitGroup) {
	if len(devices) == 0 {
		devices = []int{-1}
	}
	encoders := make([]*Encoder, len(devices))
	wg := &sync.WaitGroup{}
	for workerIdx := range devices {
		encoder := &Encoder{ID: workerIdx, Device: devices[workerIdx]}
		encoders[workerIdx] = encoder
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerLog := log.WithField("worker", encoder.ID)
			writer, writerErr := newWriter(encoder.ID)
			encoder.writer = writer
			codec, codecErr := newCodec(encoder.Device)
			if writerErr != nil {
				codecErr = writerErr
			}
			encoder.run(q, codec, codecErr, opts, workerLog)
		}()
	}
	return encoders, wg
}
