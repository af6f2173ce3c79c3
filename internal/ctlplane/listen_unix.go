//go:build unix

package ctlplane

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

var umaskMu sync.Mutex

// listenUnix creates the socket under umask so it is never briefly
// world-writable. The umask is process-wide, hence the lock.
func listenUnix(path string, umask int) (net.Listener, error) {
	umaskMu.Lock()
	defer umaskMu.Unlock()

	old := unix.Umask(umask)
	defer unix.Umask(old)
	return net.Listen("unix", path)
}
