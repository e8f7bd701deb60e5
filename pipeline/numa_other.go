//go:build !linux

package pipeline

// detectNUMANodes and pinToNode have no portable implementation
// outside Linux's /sys/devices/system/node + sched_setaffinity; on
// every other platform pinning is simply reported unsupported, which
// numaPinner.pin already treats as a non-fatal fallback.

func detectNUMANodes() int { return 0 }

func pinToNode(int) (func(), bool) { return func() {}, false }
