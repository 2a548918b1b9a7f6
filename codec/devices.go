package codec

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Devices enumerates the visible accelerator devices. CUDA_VISIBLE_DEVICES
// takes precedence when set; otherwise the /dev/nvidia* device nodes are
// counted. An empty result means no accelerators: the pipeline then runs a
// single CPU-bound worker instead of failing.
func Devices() []int {
	if env, set := os.LookupEnv("CUDA_VISIBLE_DEVICES"); set {
		return parseVisibleDevices(env)
	}
	matches, err := filepath.Glob("/dev/nvidia[0-9]*")
	if err != nil || len(matches) == 0 {
		return nil
	}
	devices := make([]int, len(matches))
	for deviceIdx := range matches {
		devices[deviceIdx] = deviceIdx
	}
	return devices
}

func parseVisibleDevices(env string) []int {
	devices := make([]int, 0)
	for _, field := range strings.Split(env, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		device, err := strconv.Atoi(field)
		if err != nil || device < 0 {
			continue
		}
		devices = append(devices, device)
	}
	return devices
}
