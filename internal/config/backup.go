package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// KeepBackups is how many backups of a config file survive a rewrite.
const KeepBackups = 3

const backupStamp = "20060102-150405.000"

// ErrNoBackup is returned by Restore when a file has no backups.
var ErrNoBackup = errors.New("no configuration backup found")

// Backup is a saved copy of a config file.
type Backup struct {
	Path  string    `json:"path"`
	Taken time.Time `json:"taken"`
}

func backupPrefix(path string) string { return filepath.Base(path) + ".bak." }

// BackupFile copies the config file at path next to it as
// <name>.bak.<timestamp> and prunes all but the newest KeepBackups copies.
// It returns "" when there is no file to back up.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}
	dst, err := newBackupFile(path, data)
	if err != nil {
		return "", err
	}

	backups, err := Backups(path)
	if err == nil && len(backups) > KeepBackups {
		for _, b := range backups[KeepBackups:] {
			_ = os.Remove(b.Path)
		}
	}
	return dst, nil
}

// newBackupFile writes data under the first free timestamp at or after now.
func newBackupFile(path string, data []byte) (string, error) {
	at := time.Now()
	for {
		dst := filepath.Join(filepath.Dir(path), backupPrefix(path)+at.Format(backupStamp))
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			at = at.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("write config backup: %w", err)
		}
		_, err = f.Write(data)
		if err = cmp.Or(err, f.Close()); err != nil {
			return "", fmt.Errorf("write config backup: %w", err)
		}
		return dst, nil
	}
}

// Backups lists the backups of the config file at path, newest first.
// Files whose suffix is not a backup timestamp are ignored.
func Backups(path string) ([]Backup, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list config backups: %w", err)
	}

	prefix := backupPrefix(path)
	var out []Backup
	for _, e := range entries {
		stamp, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok || e.IsDir() {
			continue
		}
		taken, err := time.ParseInLocation(backupStamp, stamp, time.Local)
		if err != nil {
			continue
		}
		out = append(out, Backup{Path: filepath.Join(dir, e.Name()), Taken: taken})
	}
	slices.SortFunc(out, func(a, b Backup) int { return b.Taken.Compare(a.Taken) })
	return out, nil
}

// Restore puts a backup back in place of the config file at path. An
// empty from restores the newest backup. The replaced file is itself
// backed up, so a restore can be undone.
func Restore(path, from string) (string, error) {
	if from == "" {
		backups, err := Backups(path)
		if err != nil {
			return "", err
		}
		if len(backups) == 0 {
			return "", ErrNoBackup
		}
		from = backups[0].Path
	}
	data, err := os.ReadFile(from)
	if err != nil {
		return "", fmt.Errorf("read backup: %w", err)
	}
	if _, err := BackupFile(path); err != nil {
		return "", err
	}
	return from, writeFileAtomic(path, data)
}

// writeFileAtomic replaces path through a temporary file in the same
// directory, so a crash never leaves a truncated config behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = tmp.Write(data)
	err = cmp.Or(err, tmp.Chmod(0o644), tmp.Close())
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
