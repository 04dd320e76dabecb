// Package platform maps emitted machine code into executable memory and reports what the host
// CPU supports.
package platform

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// MmapCodeSegment copies the code into a fresh executable region and returns the byte slice of
// the region. The region is writable only while the code is copied.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapCodeSegment(code []byte) ([]byte, error) {
	if len(code) == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	return mmapCodeSegment(code)
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	return munmapCodeSegment(code)
}

// CompilerSupported returns true if code emitted for arm64 can run on this host.
func CompilerSupported() bool {
	return runtime.GOARCH == "arm64" && mmapSupported
}

// CpuFeatures describes the host CPU features relevant to emitted code.
type CpuFeatures struct {
	// Atomics is set when the host implements the large system extension atomics.
	Atomics bool
}

// HostCpuFeatures returns the features of the host CPU. All of them are false on hosts other
// than arm64.
func HostCpuFeatures() CpuFeatures {
	return CpuFeatures{Atomics: runtime.GOARCH == "arm64" && cpu.ARM64.HasATOMICS}
}
