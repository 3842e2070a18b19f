//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"golang.org/x/sys/windows"
)

func retryablePurgeError(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_DIR_NOT_EMPTY)
}

// forceRemoveAll falls back to the shell, which clears read-only attributes
// and copes with long paths better than os.RemoveAll.
func forceRemoveAll(ctx context.Context, dir string) error {
	// #nosec G204
	out, err := exec.CommandContext(ctx, "cmd", "/c", "rmdir", "/S", "/Q", dir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("rmdir: %w: %s", err, out)
	}
	return nil
}
