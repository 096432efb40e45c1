//go:build !linux

package sandbox

// applyLimits is a no-op without prlimit. The child still applies its own
// CPU limit in run mode.
func applyLimits(int, ResourceLimits) error { return nil }
