package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// files performs record I/O relative to the storage root. Every write lands
// through a fully written temp file, so readers never see a partial record.
type files struct {
	root string
	sync bool
}

func (f files) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f files) read(rel string) ([]byte, error) {
	return os.ReadFile(f.abs(rel))
}

func (f files) exists(rel string) (bool, error) {
	_, err := os.Stat(f.abs(rel))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// create writes a new file and fails with ErrPathAlreadyExists instead of
// overwriting.
func (f files) create(rel string, data []byte) error {
	target := f.abs(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	tmp, err := f.writeTemp(target, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = os.Link(tmp, target)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, rel)
	}

	// No hard links on this filesystem: fall back to an exclusive open.
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, rel)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return out.Close()
}

// replace atomically overwrites (or creates) a file.
func (f files) replace(rel string, data []byte) error {
	target := f.abs(rel)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}
	tmp, err := f.writeTemp(target, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", rel, err)
	}
	return nil
}

// remove deletes a file. A file that is already gone is not an error.
func (f files) remove(rel string) error {
	err := os.Remove(f.abs(rel))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("removing %s: %w", rel, err)
}

func (f files) writeTemp(target string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil && f.sync {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	return name, nil
}
