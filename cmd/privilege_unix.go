//go:build unix

package cmd

import "golang.org/x/sys/unix"

func privileged() bool {
	return unix.Geteuid() == 0
}
