//go:build !unix

package ctlplane

import (
	"net"
	"os"
)

func listenUnix(path string, umask int) (net.Listener, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	os.Chmod(path, os.FileMode(0o777&^umask))
	return l, nil
}
