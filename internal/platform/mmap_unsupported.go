//go:build !unix

package platform

import (
	"runtime"

	"tlog.app/go/errors"
)

const mmapSupported = false

var errUnsupported = errors.New("mmap unsupported on GOOS=%s", runtime.GOOS)

func mmapCodeSegment([]byte) ([]byte, error) {
	return nil, errUnsupported
}

func munmapCodeSegment([]byte) error {
	return errUnsupported
}
