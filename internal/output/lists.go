// Package output persists the results of a scan: the plain URL lists and
// the optional JSON and Markdown reports.
package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// WriteLists replaces the active and inactive list files with one URL per
// line, in the given order. Both files are fully written to temporary
// siblings before either is renamed into place, so a failed write leaves
// the previous pair untouched.
func WriteLists(activePath, inactivePath string, active, inactive []string) error {
	activeTmp, err := stage(activePath, linesFiller(active))
	if err != nil {
		return fmt.Errorf("writing active list: %w", err)
	}
	defer os.Remove(activeTmp)
	inactiveTmp, err := stage(inactivePath, linesFiller(inactive))
	if err != nil {
		return fmt.Errorf("writing inactive list: %w", err)
	}
	defer os.Remove(inactiveTmp)

	if err := os.Rename(activeTmp, activePath); err != nil {
		return fmt.Errorf("writing active list: %w", err)
	}
	if err := os.Rename(inactiveTmp, inactivePath); err != nil {
		return fmt.Errorf("writing inactive list: %w", err)
	}
	return nil
}

func linesFiller(lines []string) func(*bufio.Writer) error {
	return func(w *bufio.Writer) error {
		for _, l := range lines {
			if _, err := w.WriteString(l + "\n"); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmpName, err := stage(path, fill)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)
	return os.Rename(tmpName, path)
}

// stage writes a complete temporary sibling of path and returns its name.
// The caller renames it into place or removes it.
func stage(path string, fill func(*bufio.Writer) error) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}
