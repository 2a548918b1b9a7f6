// Package codec bridges the pipeline to the external neural codec. The
// model itself is an opaque collaborator; this package only moves batches
// across a process boundary and enumerates accelerator devices.
package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"nanoset"
)

// Exec drives a persistent codec subprocess over a line-delimited JSON
// protocol on stdin/stdout. The subprocess loads the model once at startup
// and owns its device exclusively for the process lifetime; one Exec is
// created per encoder worker.
type Exec struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	dec    *json.Decoder
	stderr io.WriteCloser
	nextID int64
}

type execSample struct {
	Rate    int       `json:"rate"`
	Samples []float32 `json:"samples"`
}

type execRequest struct {
	ID    int64        `json:"id"`
	Batch []execSample `json:"batch"`
}

type execResult struct {
	NanoLayer1 []int32 `json:"nano_layer_1"`
	NanoLayer2 []int32 `json:"nano_layer_2"`
	NanoLayer3 []int32 `json:"nano_layer_3"`
	NanoLayer4 []int32 `json:"nano_layer_4"`
	EncodedLen int     `json:"encoded_len"`
	Error      string  `json:"error,omitempty"`
}

type execResponse struct {
	ID      int64        `json:"id"`
	Results []execResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

// NewExec starts the codec command for one device. The command string may
// carry its own arguments; `--model` and `--device` are appended. Device -1
// requests CPU inference.
func NewExec(command, model string, device int) (*Exec, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty codec command")
	}
	args := append(parts[1:],
		"--model", model,
		"--device", strconv.Itoa(device))
	cmd := exec.Command(parts[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := logrus.WithFields(logrus.Fields{
		"codec":  parts[0],
		"device": device,
	}).WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err = cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("starting codec %q: %w", parts[0], err)
	}
	return &Exec{
		cmd:    cmd,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		dec:    json.NewDecoder(bufio.NewReaderSize(stdout, 1<<20)),
		stderr: stderr,
	}, nil
}

// Encode sends one batch to the subprocess and maps the response onto
// positionally aligned results. A protocol or process failure fails the
// whole batch; a per-sample rejection only fails its own result.
func (e *Exec) Encode(batch []nanoset.Audio) ([]nanoset.Result, error) {
	e.nextID++
	req := execRequest{ID: e.nextID, Batch: make([]execSample, len(batch))}
	for sampleIdx := range batch {
		req.Batch[sampleIdx] = execSample{
			Rate:    batch[sampleIdx].Rate,
			Samples: batch[sampleIdx].Samples,
		}
	}
	if err := e.enc.Encode(&req); err != nil {
		return nil, fmt.Errorf("sending batch to codec: %w", err)
	}
	var resp execResponse
	if err := e.dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("reading codec response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("codec: %s", resp.Error)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("codec response id %d for request %d",
			resp.ID, req.ID)
	}
	if len(resp.Results) != len(batch) {
		return nil, fmt.Errorf("codec returned %d results for %d samples",
			len(resp.Results), len(batch))
	}
	results := make([]nanoset.Result, len(batch))
	for resIdx := range resp.Results {
		res := &resp.Results[resIdx]
		if res.Error != "" {
			results[resIdx].Err = fmt.Errorf("codec: %s", res.Error)
			continue
		}
		results[resIdx] = nanoset.Result{
			Layers: nanoset.TokenLayers{
				res.NanoLayer1, res.NanoLayer2,
				res.NanoLayer3, res.NanoLayer4,
			},
			Len: res.EncodedLen,
		}
	}
	return results, nil
}

// Close shuts the subprocess down by closing its stdin and waiting for it
// to exit.
func (e *Exec) Close() error {
	closeErr := e.stdin.Close()
	waitErr := e.cmd.Wait()
	e.stderr.Close()
	if waitErr != nil {
		return waitErr
	}
	return closeErr
}
