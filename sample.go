package nanoset

import (
	"bytes"
	"encoding/json"
	"sort"
)

// NumLayers is the number of parallel token streams the hierarchical codec
// produces for a single audio input.
const NumLayers = 4

// Audio is a mono PCM buffer together with its sample rate.
type Audio struct {
	Samples []float32
	Rate    int
}

// RawSample is one record pulled from a sample source. It is owned by the
// reader that built it until it is handed to the work queue, and by the
// encoder that dequeues it afterwards.
type RawSample struct {
	Audio   Audio
	Text    string
	Speaker string
	Extra   map[string]string
}

// TokenLayers holds one token sequence per codec layer. All layers of a
// successfully encoded sample have equal length.
type TokenLayers [NumLayers][]int32

// EncodedSample is the serializable result of encoding exactly one
// RawSample.
type EncodedSample struct {
	Text       string
	Layers     TokenLayers
	EncodedLen int
	Speaker    string
	Extra      map[string]string
}

// BaseFields are the field names present in every output record.
var BaseFields = []string{
	"text",
	"nano_layer_1",
	"nano_layer_2",
	"nano_layer_3",
	"nano_layer_4",
	"encoded_len",
}

// Valid reports whether the sample satisfies the layer-length invariant:
// every layer has exactly EncodedLen tokens, and EncodedLen is positive.
func (s *EncodedSample) Valid() bool {
	if s.EncodedLen <= 0 {
		return false
	}
	for layerIdx := range s.Layers {
		if len(s.Layers[layerIdx]) != s.EncodedLen {
			return false
		}
	}
	return true
}

// Fields returns the sorted set of field names this sample serializes to.
func (s *EncodedSample) Fields() []string {
	fields := append([]string{}, BaseFields...)
	if s.Speaker != "" {
		fields = append(fields, "speaker")
	}
	for key := range s.Extra {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

type encodedSampleJSON struct {
	Text       string  `json:"text"`
	NanoLayer1 []int32 `json:"nano_layer_1"`
	NanoLayer2 []int32 `json:"nano_layer_2"`
	NanoLayer3 []int32 `json:"nano_layer_3"`
	NanoLayer4 []int32 `json:"nano_layer_4"`
	EncodedLen int     `json:"encoded_len"`
	Speaker    string  `json:"speaker,omitempty"`
}

// MarshalJSON serializes the sample as a single flat object, splicing the
// constant Extra fields in after the fixed ones. Extra keys are emitted in
// sorted order, so output is deterministic.
func (s *EncodedSample) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(encodedSampleJSON{
		Text:       s.Text,
		NanoLayer1: s.Layers[0],
		NanoLayer2: s.Layers[1],
		NanoLayer3: s.Layers[2],
		NanoLayer4: s.Layers[3],
		EncodedLen: s.EncodedLen,
		Speaker:    s.Speaker,
	})
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return base, nil
	}
	extra, err := json.Marshal(s.Extra)
	if err != nil {
		return nil, err
	}
	merged := bytes.NewBuffer(base[:len(base)-1])
	merged.WriteByte(',')
	merged.Write(extra[1:])
	return merged.Bytes(), nil
}
