package codec

import (
	"fmt"
	"math"

	"nanoset"
)

// DefaultFrameRate matches the nano codec's 12.5 token frames per second.
const DefaultFrameRate = 12.5

// Null is a model-free stand-in codec for dry runs: it emits deterministic
// zero tokens at the codec frame rate so the pipeline, sharding, and
// assembly can be exercised without an accelerator or the external bridge.
type Null struct {
	// FrameRate is token frames per second; zero means DefaultFrameRate.
	FrameRate float64
}

// Encode produces positionally aligned synthetic results. Empty audio is
// rejected per sample, like the real codec.
func (n *Null) Encode(batch []nanoset.Audio) ([]nanoset.Result, error) {
	frameRate := n.FrameRate
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	results := make([]nanoset.Result, len(batch))
	for sampleIdx := range batch {
		audio := &batch[sampleIdx]
		if len(audio.Samples) == 0 || audio.Rate <= 0 {
			results[sampleIdx].Err = fmt.Errorf("empty audio buffer")
			continue
		}
		seconds := float64(len(audio.Samples)) / float64(audio.Rate)
		frames := int(math.Ceil(seconds * frameRate))
		if frames < 1 {
			frames = 1
		}
		var layers nanoset.TokenLayers
		for layerIdx := range layers {
			layers[layerIdx] = make([]int32, frames)
		}
		results[sampleIdx] = nanoset.Result{Layers: layers, Len: frames}
	}
	return results, nil
}

// Close is a no-op; Null holds no resources.
func (n *Null) Close() error {
	return nil
}
