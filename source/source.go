// Package source implements sample sources for the encoding pipeline: a
// recursive directory of WAV files with transcript sidecars, and a jsonl
// manifest with configurable column mappings. Both are finite, lazily read,
// and partitionable by index.
package source

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/go-audio/wav"

	"nanoset"
)

// LoadWav decodes a WAV file into a mono float32 PCM buffer. Multi-channel
// audio is downmixed by averaging. The file is memory-mapped for the
// duration of the decode. Decode failures are reported as bad records so
// the reader skips them rather than aborting.
func LoadWav(path string) (nanoset.Audio, error) {
	file, err := os.Open(path)
	if err != nil {
		return nanoset.Audio{}, fmt.Errorf("%w: %s: %v",
			nanoset.ErrBadRecord, path, err)
	}
	defer file.Close()
	fileMmap, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nanoset.Audio{}, fmt.Errorf("%w: mmap %s: %v",
			nanoset.ErrBadRecord, path, err)
	}
	defer fileMmap.Unmap()

	decoder := wav.NewDecoder(bytes.NewReader(fileMmap))
	if !decoder.IsValidFile() {
		return nanoset.Audio{}, fmt.Errorf("%w: %s is not a valid wav file",
			nanoset.ErrBadRecord, path)
	}
	intBuf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nanoset.Audio{}, fmt.Errorf("%w: decoding %s: %v",
			nanoset.ErrBadRecord, path, err)
	}
	numChannels := intBuf.Format.NumChannels
	if numChannels <= 0 {
		numChannels = 1
	}
	bitDepth := intBuf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))

	frames := len(intBuf.Data) / numChannels
	samples := make([]float32, frames)
	for frameIdx := 0; frameIdx < frames; frameIdx++ {
		sum := float32(0)
		for ch := 0; ch < numChannels; ch++ {
			sum += float32(intBuf.Data[frameIdx*numChannels+ch]) / scale
		}
		samples[frameIdx] = sum / float32(numChannels)
	}
	return nanoset.Audio{
		Samples: samples,
		Rate:    intBuf.Format.SampleRate,
	}, nil
}
