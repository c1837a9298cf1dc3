//go:build !unix

package media

import "errors"

func diskUsage(string) (uint64, uint64, error) {
	return 0, 0, errors.New("free space check not supported on this platform")
}
