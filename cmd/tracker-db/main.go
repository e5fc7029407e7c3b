// Command tracker-db backs up, verifies and restores the tracker state database.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/tracker/internal/config"
	"github.com/antigravity-dev/tracker/internal/store"
)

const usage = `usage: tracker-db <backup|verify|restore> [flags]

  backup  -db PATH [-out PATH]      snapshot a database (live databases are fine)
  verify  -file PATH                integrity check and row counts
  restore -backup PATH -db PATH     replace a database with a verified backup
          [-force]                  overwrite an existing target
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		die("%v", err)
	}
}

func run(cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "backup":
		dbPath := fs.String("db", "", "source database path (required)")
		out := fs.String("out", "", "backup destination (default <db>-backup-<timestamp>.db)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *dbPath == "" {
			return fmt.Errorf("-db path is required")
		}
		src := config.ExpandHome(*dbPath)
		dst := config.ExpandHome(*out)
		if dst == "" {
			dst = defaultBackupPath(src, time.Now())
		}
		return backup(src, dst)

	case "verify":
		file := fs.String("file", "", "database or backup file (required)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("-file path is required")
		}
		info, err := store.VerifyFile(config.ExpandHome(*file))
		if err != nil {
			return err
		}
		return printInfo(info)

	case "restore":
		backupPath := fs.String("backup", "", "backup file path (required)")
		dbPath := fs.String("db", "", "target database path (required)")
		force := fs.Bool("force", false, "overwrite existing database")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *backupPath == "" || *dbPath == "" {
			return fmt.Errorf("-backup and -db paths are required")
		}
		start := time.Now()
		info, err := store.Restore(config.ExpandHome(*backupPath), config.ExpandHome(*dbPath), *force)
		if err != nil {
			return err
		}
		fmt.Printf("Restore completed in %v\n", time.Since(start))
		return printInfo(info)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func backup(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("source database: %w", err)
	}
	st, err := store.Open(src)
	if err != nil {
		return err
	}
	defer st.Close()

	start := time.Now()
	if err := st.Backup(dst); err != nil {
		return err
	}
	fmt.Printf("Backup %s -> %s completed in %v\n", src, dst, time.Since(start))

	info, err := store.VerifyFile(dst)
	if err != nil {
		return err
	}
	return printInfo(info)
}

func defaultBackupPath(src string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(filepath.Dir(src), fmt.Sprintf("%s-backup-%s.db", base, now.Format("20060102-150405")))
}

func printInfo(info *store.BackupInfo) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
