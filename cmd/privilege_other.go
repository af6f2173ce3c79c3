//go:build !unix

package cmd

func privileged() bool { return true }
