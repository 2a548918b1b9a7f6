package nanoset

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// memSource is an in-memory sample source with injectable per-record
// faults.
type memSource struct {
	size    int
	badAt   map[int]bool // malformed record, skip-and-count
	fatalAt map[int]bool // unrecoverable source error
	emptyAt map[int]bool // audio the codec will reject
}

func (s *memSource) Size() int {
	return s.size
}

func (s *memSource) Record(idx int) (*RawSample, error) {
	if s.badAt[idx] {
		return nil, fmt.Errorf("%w: record %d is corrupt", ErrBadRecord, idx)
	}
	if s.fatalAt[idx] {
		return nil, errors.New("source unreachable")
	}
	audio := Audio{Samples: make([]float32, 220), Rate: 22050}
	if s.emptyAt[idx] {
		audio = Audio{Rate: 22050}
	}
	return &RawSample{
		Audio: audio,
		Text:  fmt.Sprintf("utterance %04d", idx),
	}, nil
}

// memWriter collects encoded samples in memory.
type memWriter struct {
	mu      sync.Mutex
	samples []*EncodedSample
	closed  bool
}

func (w *memWriter) Write(sample *EncodedSample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write after close")
	}
	w.samples = append(w.samples, sample)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *memWriter) Shards() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) > 0 {
		return 1
	}
	return 0
}

func (w *memWriter) Bytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.samples))
}

func (w *memWriter) texts() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	texts := make(map[string]bool, len(w.samples))
	for _, sample := range w.samples {
		texts[sample.Text] = true
	}
	return texts
}

// stubCodec encodes every non-empty sample to two tokens per layer and
// rejects empty audio, recording the batch sizes it saw.
type stubCodec struct {
	mu      sync.Mutex
	batches []int
	closed  bool
}

func (c *stubCodec) Encode(batch []Audio) ([]Result, error) {
	c.mu.Lock()
	c.batches = append(c.batches, len(batch))
	c.mu.Unlock()
	results := make([]Result, len(batch))
	for sampleIdx := range batch {
		if len(batch[sampleIdx].Samples) == 0 {
			results[sampleIdx].Err = errors.New("unsupported audio buffer")
			continue
		}
		var layers TokenLayers
		for layerIdx := range layers {
			layers[layerIdx] = []int32{int32(layerIdx), int32(layerIdx)}
		}
		results[sampleIdx] = Result{Layers: layers, Len: 2}
	}
	return results, nil
}

func (c *stubCodec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type testHarness struct {
	codecs  []*stubCodec
	writers []*memWriter
	mu      sync.Mutex
}

func (h *testHarness) pipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		Config: cfg,
		NewCodec: func(device int) (Codec, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			codec := &stubCodec{}
			h.codecs = append(h.codecs, codec)
			return codec, nil
		},
		NewWriter: func(worker int) (ShardWriter, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			writer := &memWriter{}
			h.writers = append(h.writers, writer)
			return writer, nil
		},
	}
}

func (h *testHarness) allTexts() map[string]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	texts := make(map[string]bool)
	for _, writer := range h.writers {
		for text := range writer.texts() {
			texts[text] = true
		}
	}
	return texts
}

func TestTwoReadersCoverWholeSource(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	qsize := 10
	var mu sync.Mutex
	maxQueued := 0
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 2,
		QueueSize:  qsize,
		BatchSize:  4,
	})
	pipeline.Progress = func(snap Snapshot) {
		mu.Lock()
		if snap.Queued > maxQueued {
			maxQueued = snap.Queued
		}
		mu.Unlock()
	}
	pipeline.ProgressInterval = time.Millisecond

	stats, err := pipeline.Run(&memSource{size: 100})
	require.NoError(t, err)

	// Scenario B: combined reader counters sum to exactly the source size.
	assert.Equal(t, int64(100), stats.Read)
	assert.Equal(t, int64(100), stats.Encoded)
	assert.Equal(t, int64(0), stats.Skipped())

	// No duplication, no omission.
	texts := harness.allTexts()
	assert.Len(t, texts, 100)
	for idx := 0; idx < 100; idx++ {
		assert.Contains(t, texts, fmt.Sprintf("utterance %04d", idx))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxQueued, qsize)
}

func TestUnsupportedAudioIsSkippedNotFatal(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 1,
		QueueSize:  10,
		BatchSize:  8,
	})
	stats, err := pipeline.Run(&memSource{
		size:    100,
		emptyAt: map[int]bool{13: true},
	})
	require.NoError(t, err)

	// Scenario C: the one bad sample is counted, the other 99 survive.
	assert.Equal(t, int64(100), stats.Read)
	assert.Equal(t, int64(99), stats.Encoded)
	assert.Equal(t, int64(1), stats.EncodeSkipped)
	assert.NotContains(t, harness.allTexts(), "utterance 0013")
}

func TestMalformedRecordIsSkippedByReader(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 1,
		QueueSize:  4,
		BatchSize:  4,
	})
	stats, err := pipeline.Run(&memSource{
		size:  20,
		badAt: map[int]bool{7: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(19), stats.Read)
	assert.Equal(t, int64(1), stats.ReadSkipped)
	assert.Equal(t, int64(19), stats.Encoded)
	assert.Equal(t, 0, stats.ReaderFailures)
}

func TestReaderFatalErrorStillTerminatesPipeline(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 2,
		QueueSize:  4,
		BatchSize:  4,
	})
	// Reader 1 owns the odd indexes and dies at record 5, after
	// delivering 1 and 3. Reader 0 delivers all 50 even records.
	stats, err := pipeline.Run(&memSource{
		size:    100,
		fatalAt: map[int]bool{5: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReaderFailures)
	assert.Equal(t, int64(52), stats.Read)
	assert.Equal(t, int64(52), stats.Encoded)
}

func TestCodecInitFailureDrainsWithoutDeadlock(t *testing.T) {
	defer goleak.VerifyNone(t)
	writer := &memWriter{}
	pipeline := &Pipeline{
		Config: PipelineConfig{
			NumReaders: 2,
			QueueSize:  4,
			BatchSize:  4,
		},
		NewCodec: func(device int) (Codec, error) {
			return nil, errors.New("device initialization failure")
		},
		NewWriter: func(worker int) (ShardWriter, error) {
			return writer, nil
		},
	}
	stats, err := pipeline.Run(&memSource{size: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(50), stats.Read)
	assert.Equal(t, int64(0), stats.Encoded)
	assert.Equal(t, int64(50), stats.EncodeSkipped)
	assert.Equal(t, 1, stats.WorkerFailures)
}

func TestMultipleEncodersPartitionTheStream(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 2,
		QueueSize:  16,
		BatchSize:  4,
		Devices:    []int{0, 1},
	})
	stats, err := pipeline.Run(&memSource{size: 200})
	require.NoError(t, err)
	assert.Equal(t, int64(200), stats.Encoded)
	assert.Len(t, harness.allTexts(), 200)
	require.Len(t, harness.writers, 2)
	perWorker := len(harness.writers[0].texts()) +
		len(harness.writers[1].texts())
	assert.Equal(t, 200, perWorker, "workers own disjoint sample sets")
}

func TestBatchSizeIsRespected(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders:   1,
		QueueSize:    32,
		BatchSize:    8,
		BatchTimeout: 50 * time.Millisecond,
	})
	stats, err := pipeline.Run(&memSource{size: 100})
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.Encoded)

	require.Len(t, harness.codecs, 1)
	codec := harness.codecs[0]
	codec.mu.Lock()
	defer codec.mu.Unlock()
	assert.True(t, codec.closed)
	total := 0
	for _, batch := range codec.batches {
		assert.LessOrEqual(t, batch, 8)
		total += batch
	}
	assert.Equal(t, 100, total)
}

func TestConstantFieldsAndSanitizeApplied(t *testing.T) {
	defer goleak.VerifyNone(t)
	harness := &testHarness{}
	pipeline := harness.pipeline(PipelineConfig{
		NumReaders: 1,
		QueueSize:  4,
		BatchSize:  2,
		Sanitize:   true,
		Constants:  map[string]string{"lang": "en"},
	})
	stats, err := pipeline.Run(&memSource{size: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Encoded)
	require.Len(t, harness.writers, 1)
	for _, sample := range harness.writers[0].samples {
		assert.Equal(t, "en", sample.Extra["lang"])
	}
}
