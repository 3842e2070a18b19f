//go:build windows

package process

// Windows has no process-group signals; descendants are terminated one by
// one from the enumerated tree.
func terminateGroup(int) error { return nil }
func killGroup(int) error      { return nil }
