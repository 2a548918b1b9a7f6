package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanoset"
)

func TestNullFrameMath(t *testing.T) {
	n := &Null{}
	results, err := n.Encode([]nanoset.Audio{
		{Samples: make([]float32, 16000), Rate: 16000}, // 1.0s -> 13 frames
		{Samples: make([]float32, 8000), Rate: 16000},  // 0.5s -> 7 frames
		{Samples: make([]float32, 10), Rate: 16000},    // clamps to 1 frame
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	wantFrames := []int{13, 7, 1}
	for resIdx, want := range wantFrames {
		res := &results[resIdx]
		require.NoError(t, res.Err)
		assert.Equal(t, want, res.Len)
		for layerIdx := range res.Layers {
			assert.Len(t, res.Layers[layerIdx], want)
		}
	}
}

func TestNullCustomFrameRate(t *testing.T) {
	n := &Null{FrameRate: 50}
	results, err := n.Encode([]nanoset.Audio{
		{Samples: make([]float32, 22050), Rate: 22050},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, results[0].Len)
}

func TestNullRejectsEmptyAudioPerSample(t *testing.T) {
	n := &Null{}
	results, err := n.Encode([]nanoset.Audio{
		{Samples: make([]float32, 1600), Rate: 16000},
		{Rate: 16000},
		{Samples: make([]float32, 1600)},
	})
	require.NoError(t, err, "per-sample rejection must not fail the batch")
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err, "empty samples are rejected")
	assert.Error(t, results[2].Err, "zero rate is rejected")
}

func TestNullResultsPassEncodedSampleValidation(t *testing.T) {
	n := &Null{}
	results, err := n.Encode([]nanoset.Audio{
		{Samples: make([]float32, 4410), Rate: 22050},
	})
	require.NoError(t, err)
	sample := &nanoset.EncodedSample{
		Text:       "x",
		Layers:     results[0].Layers,
		EncodedLen: results[0].Len,
	}
	assert.True(t, sample.Valid())
}
