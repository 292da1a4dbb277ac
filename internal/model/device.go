package model

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Device identifies the compute path the model servers are expected to
// run on. It is detected once at startup and fixed for the process.
type Device string

const (
	DeviceCUDA  Device = "cuda"
	DeviceMetal Device = "metal"
	DeviceCPU   Device = "cpu"
)

// nvidiaInfoGlob matches the per-GPU information files exposed by the
// NVIDIA kernel driver. Overridden in tests.
var nvidiaInfoGlob = "/proc/driver/nvidia/gpus/*/information"

// DetectDevice probes for an NVIDIA GPU with at least minGPUMemGB of
// video memory, then for Apple silicon, and falls back to plain CPU.
func DetectDevice(minGPUMemGB float64) Device {
	if mem, ok := nvidiaVideoMemoryGB(); ok && mem >= minGPUMemGB {
		return DeviceCUDA
	}
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return DeviceMetal
	}
	return DeviceCPU
}

// nvidiaVideoMemoryGB reports the largest video memory among installed
// GPUs, reading lines of the form "Video Memory: 24576 MBytes".
func nvidiaVideoMemoryGB() (float64, bool) {
	paths, err := filepath.Glob(nvidiaInfoGlob)
	if err != nil || len(paths) == 0 {
		return 0, false
	}

	var (
		maxGB float64
		found bool
	)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.HasPrefix(line, "Video Memory") {
				continue
			}
			fields := strings.Fields(line)
			for i, f := range fields {
				mb, err := strconv.ParseFloat(f, 64)
				if err != nil || i+1 >= len(fields) || !strings.HasPrefix(fields[i+1], "MByte") {
					continue
				}
				gb := mb / 1024
				if gb > maxGB {
					maxGB = gb
				}
				found = true
			}
		}
	}
	return maxGB, found
}
