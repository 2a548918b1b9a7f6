package codec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nanoset"
)

// writeBridgeScript installs a stand-in codec bridge that answers every
// request line with the given response line.
func writeBridgeScript(t *testing.T, response string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	script := "#!/bin/sh\nwhile read line; do\n  echo '" + response +
		"'\ndone\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestExecRoundTrip(t *testing.T) {
	bridge := writeBridgeScript(t,
		`{"id":1,"results":[{"nano_layer_1":[10,11],"nano_layer_2":[20,21],`+
			`"nano_layer_3":[30,31],"nano_layer_4":[40,41],"encoded_len":2}]}`)
	e, err := NewExec(bridge, "test-model", -1)
	require.NoError(t, err)

	results, err := e.Encode([]nanoset.Audio{
		{Samples: make([]float32, 160), Rate: 16000},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Len)
	assert.Equal(t, []int32{10, 11}, results[0].Layers[0])
	assert.Equal(t, []int32{40, 41}, results[0].Layers[3])
	assert.NoError(t, e.Close())
}

func TestExecPerSampleError(t *testing.T) {
	bridge := writeBridgeScript(t,
		`{"id":1,"results":[{"error":"audio too long"}]}`)
	e, err := NewExec(bridge, "test-model", -1)
	require.NoError(t, err)

	results, err := e.Encode([]nanoset.Audio{
		{Samples: make([]float32, 160), Rate: 16000},
	})
	require.NoError(t, err, "a rejected sample must not fail the batch")
	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0].Err, "audio too long")
	assert.NoError(t, e.Close())
}

func TestExecBatchLevelError(t *testing.T) {
	bridge := writeBridgeScript(t, `{"id":1,"error":"out of memory"}`)
	e, err := NewExec(bridge, "test-model", -1)
	require.NoError(t, err)

	_, err = e.Encode([]nanoset.Audio{
		{Samples: make([]float32, 160), Rate: 16000},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.NoError(t, e.Close())
}

func TestExecMisalignedResponseCount(t *testing.T) {
	bridge := writeBridgeScript(t, `{"id":1,"results":[]}`)
	e, err := NewExec(bridge, "test-model", -1)
	require.NoError(t, err)

	_, err = e.Encode([]nanoset.Audio{
		{Samples: make([]float32, 160), Rate: 16000},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 results")
	assert.NoError(t, e.Close())
}

func TestExecEmptyCommandFails(t *testing.T) {
	_, err := NewExec("", "test-model", -1)
	assert.Error(t, err)
	_, err = NewExec("   ", "test-model", -1)
	assert.Error(t, err)
}

func TestExecMissingBinaryFails(t *testing.T) {
	_, err := NewExec("/does/not/exist/nano-bridge", "test-model", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting codec")
}
