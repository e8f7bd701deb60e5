//go:build linux

package pipeline

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const sysNodePath = "/sys/devices/system/node"

// detectNUMANodes counts the node<N> entries under sysNodePath. It
// returns 0 on any read failure and 1 on a single-node host;
// newNUMAPinner disables pinning for any count of 1 or less.
func detectNUMANodes() int {
	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "node")); err == nil && strings.HasPrefix(e.Name(), "node") {
			count++
		}
	}
	return count
}

// pinToNode locks the calling goroutine to its current OS thread and
// constrains that thread to node's CPU set via sched_setaffinity. The
// returned unpin unlocks the thread; ok is false if the node's CPU
// list can't be read or the syscall fails, in which case the goroutine
// is left unlocked and unaffined.
func pinToNode(node int) (unpin func(), ok bool) {
	cpus, err := readNodeCPUList(node)
	if err != nil || len(cpus) == 0 {
		return func() {}, false
	}

	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}

	runtime.LockOSThread()
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return func() {}, false
	}
	return runtime.UnlockOSThread, true
}

func readNodeCPUList(node int) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(sysNodePath, "node"+strconv.Itoa(node), "cpulist"))
	if err != nil {
		return nil, err
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

// parseCPUList parses the kernel's "0-3,8,10-11" cpulist format.
func parseCPUList(s string) ([]int, error) {
	var cpus []int
	if s == "" {
		return cpus, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, err := strconv.Atoi(part[:i])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(part[i+1:])
			if err != nil {
				return nil, err
			}
			for c := lo; c <= hi; c++ {
				cpus = append(cpus, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		cpus = append(cpus, c)
	}
	return cpus, nil
}
