// Package atomicfile replaces a file's contents atomically via a temporary
// file in the same directory and a rename, so external readers only ever
// observe the old or the new content in full.
package atomicfile

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Publish writes new content for target through write, then renames it into
// place. The temporary file keeps the target's extension so extension-aware
// tooling still recognizes it during the pre-rename window. If write fails,
// the temporary file is left behind for diagnosis and target is untouched;
// each failure orphans a uniquely named file rather than corrupting state.
func Publish(target string, write func(w io.Writer) error) error {
	tmp := tempName(target)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := copyMetadata(target, tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s onto %s: %w", tmp, target, err)
	}
	return nil
}

// tempName derives a per-call unique sibling of target from the process id,
// a high-resolution timestamp, and a random component.
func tempName(target string) string {
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)
	return fmt.Sprintf("%s.%d.%d.%08x%s", base, os.Getpid(), time.Now().UnixNano(), rand.Uint32(), ext)
}

// copyMetadata applies target's ownership and permission bits to tmp.
// A missing target means there is nothing to preserve. Permission errors
// are swallowed: publication must not fail merely because the process
// lacks privilege to preserve metadata.
func copyMetadata(target, tmp string) error {
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(tmp, int(st.Uid), int(st.Gid)); err != nil && !permissionDenied(err) {
			return fmt.Errorf("chown %s: %w", tmp, err)
		}
	}
	if err := os.Chmod(tmp, info.Mode().Perm()); err != nil && !permissionDenied(err) {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	return nil
}

func permissionDenied(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM)
}
