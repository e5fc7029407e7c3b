package store

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// backupTables are counted when verifying a backup.
var backupTables = []string{"users", "projects", "project_members", "tasks", "task_comments", "task_attachments"}

// BackupInfo describes a verified database file.
type BackupInfo struct {
	Path          string         `json:"path"`
	SchemaVersion int            `json:"schema_version"`
	TableCounts   map[string]int `json:"table_counts"` // -1 when the table is missing
}

// Backup writes a consistent snapshot of the live database to dst. It fails
// when dst already exists.
func (s *Store) Backup(dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("backup: %s already exists", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("backup: create directory: %w", err)
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("backup: vacuum into %s: %w", dst, err)
	}
	return nil
}

// VerifyFile opens path read-only, runs an integrity check and counts the
// rows of every tracker table.
func VerifyFile(path string) (*BackupInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	db, err := openReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("verify: open %s: %w", path, err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&integrity); err != nil {
		return nil, fmt.Errorf("verify: integrity check: %w", err)
	}
	if integrity != "ok" {
		return nil, fmt.Errorf("verify: integrity check failed: %s", integrity)
	}

	info := &BackupInfo{Path: path, TableCounts: make(map[string]int, len(backupTables))}
	for _, table := range backupTables {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			n = -1
		}
		info.TableCounts[table] = n
	}
	if err := db.QueryRow(`PRAGMA schema_version`).Scan(&info.SchemaVersion); err != nil {
		return nil, fmt.Errorf("verify: schema version: %w", err)
	}
	return info, nil
}

// openReadOnly opens path through a file: URI; the driver honors mode=ro only
// in URI form.
func openReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite", "file:"+path+"?mode=ro")
}

// Restore replaces dst with a verified copy of backup. An existing dst is only
// overwritten with force; it is kept aside and put back if the copy fails.
// The tracker must not be running against dst.
func Restore(backup, dst string, force bool) (*BackupInfo, error) {
	if _, err := VerifyFile(backup); err != nil {
		return nil, err
	}

	var safety string
	if _, err := os.Stat(dst); err == nil {
		if !force {
			return nil, fmt.Errorf("restore: %s exists (use force to overwrite)", dst)
		}
		safety = dst + ".pre-restore-" + time.Now().Format("20060102-150405")
		if err := copyFile(dst, safety); err != nil {
			return nil, fmt.Errorf("restore: safety copy: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("restore: create directory: %w", err)
	}

	// Stale WAL files would be replayed over the restored image.
	os.Remove(dst + "-wal")
	os.Remove(dst + "-shm")

	if err := copyFile(backup, dst); err != nil {
		if safety != "" {
			if rbErr := copyFile(safety, dst); rbErr != nil {
				return nil, fmt.Errorf("restore failed (%w) and rollback failed: %v", err, rbErr)
			}
		}
		return nil, fmt.Errorf("restore: copy: %w", err)
	}

	restored, err := VerifyFile(dst)
	if err != nil {
		return nil, fmt.Errorf("restore: verify restored database: %w", err)
	}
	if safety != "" {
		os.Remove(safety)
	}
	return restored, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
