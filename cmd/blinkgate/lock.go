package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

func isAlreadyRun(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}

	pidStr, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Can not read pid file", "path", path, "error", err)
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidStr)))
	if err != nil {
		logger.Warn("Invalid existing pid file", "path", path, "error", err)
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		logger.Warn("Can not find current process", "pid", pid, "error", err)
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

func writeLockFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(f, "%d", os.Getpid())
	return f.Close()
}
