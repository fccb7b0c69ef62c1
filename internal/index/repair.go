package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/dictionary"
)

// IntegrityCheck runs SQLite's integrity and foreign-key checks. A check that
// cannot run at all (the file is not a database) is itself an anomaly.
func (db *DB) IntegrityCheck(ctx context.Context) ([]string, error) {
	return db.checkIntegrity(ctx)
}

func (db *DB) pragmaIntegrity(ctx context.Context) ([]string, error) {
	anomalies := []string{}

	rows, err := db.conn.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return append(anomalies, "integrity_check: "+err.Error()), nil
	}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			rows.Close()
			return append(anomalies, "integrity_check: "+err.Error()), nil
		}
		if msg != "ok" {
			anomalies = append(anomalies, msg)
		}
	}
	if err := rows.Err(); err != nil {
		anomalies = append(anomalies, "integrity_check: "+err.Error())
	}
	rows.Close()

	fkRows, err := db.conn.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return append(anomalies, "foreign_key_check: "+err.Error()), nil
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var (
			table, parent string
			rowid, fkid   any
		)
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return append(anomalies, "foreign_key_check: "+err.Error()), nil
		}
		anomalies = append(anomalies, fmt.Sprintf("%s row %v references missing %s", table, rowid, parent))
	}
	if err := fkRows.Err(); err != nil {
		anomalies = append(anomalies, "foreign_key_check: "+err.Error())
	}
	return anomalies, nil
}

// Repair snapshots the database to the backup directory, checks it, and then
// either compacts it (healthy) or exports every table to JSONL, rebuilds an
// empty schema and reimports row by row (corrupt). The backup is never
// removed. Reimport failures are counted per table rather than aborting.
func (db *DB) Repair(ctx context.Context) (*dictionary.RepairReport, error) {
	report := &dictionary.RepairReport{}

	backup, err := db.backup(ctx)
	if err != nil {
		return nil, apperr.E(apperr.KindFilesystem, "index: repair backup", err)
	}
	report.BackupPath = backup
	db.logger.Info("repair: backup written", slog.String("path", backup))

	anomalies, err := db.checkIntegrity(ctx)
	if err != nil {
		return report, err
	}
	if len(anomalies) == 0 {
		report.IntegrityOK = true
		if _, err := db.conn.ExecContext(ctx, `VACUUM`); err != nil {
			return report, classify("index: repair vacuum", err)
		}
		report.Compacted = true
		db.logger.Info("repair: integrity ok, compacted")
		return report, nil
	}

	report.Anomalies = anomalies
	db.logger.Warn("repair: integrity check failed, rebuilding",
		slog.Int("anomalies", len(anomalies)))

	exportDir := backup + ".export"
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return report, apperr.E(apperr.KindFilesystem, "index: repair export dir", err)
	}
	report.ExportDir = exportDir
	report.Exported = db.exportTables(ctx, exportDir)

	if err := db.rebuild(); err != nil {
		return report, apperr.E(apperr.KindBackendIntegrity, "index: repair rebuild", err)
	}
	report.Rebuilt = true

	report.Imported, report.Failed = db.importTables(ctx, exportDir)
	db.logger.Info("repair: reimport finished",
		slog.Any("imported", report.Imported),
		slog.Any("failed", report.Failed))
	return report, nil
}

// RepairFile runs Repair on the database at path through a connection that
// was never required to be healthy. Use it when Open reports corruption.
func RepairFile(ctx context.Context, path string, opts ...Option) (*dictionary.RepairReport, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.E(apperr.KindFilesystem, "index: repair "+path, err)
	}
	db, err := OpenForRepair(path, opts...)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Repair(ctx)
}

// backup checkpoints the WAL and copies the database file.
func (db *DB) backup(ctx context.Context) (string, error) {
	_, _ = db.conn.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)

	if err := os.MkdirAll(db.backupDir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	dst := filepath.Join(db.backupDir, fmt.Sprintf("%s.%s.bak", filepath.Base(db.path), stamp))
	if err := copyFile(db.path, dst); err != nil {
		return "", err
	}
	if _, err := os.Stat(db.path + "-wal"); err == nil {
		if err := copyFile(db.path+"-wal", dst+"-wal"); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
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

// exportTables dumps every readable row of every table to <table>.jsonl.
// A table that fails midway keeps the rows read before the failure.
func (db *DB) exportTables(ctx context.Context, dir string) map[string]int {
	counts := make(map[string]int, len(tables))
	for _, t := range tables {
		records, err := db.readTable(ctx, t.name, t.columns)
		if err != nil {
			db.logger.Warn("repair: export incomplete",
				slog.String("table", t.name),
				slog.Int("rows", len(records)),
				slog.String("error", err.Error()))
		}
		if err := writeJSONL(filepath.Join(dir, t.name+".jsonl"), records); err != nil {
			db.logger.Warn("repair: export write failed",
				slog.String("table", t.name),
				slog.String("error", err.Error()))
			continue
		}
		counts[t.name] = len(records)
	}
	return counts
}

func (db *DB) readTable(ctx context.Context, table string, columns []string) ([]json.RawMessage, error) {
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return records, err
		}
		obj := make(map[string]any, len(columns))
		for i, c := range columns {
			switch v := vals[i].(type) {
			case []byte:
				obj[c] = string(v)
			case time.Time:
				obj[c] = v.UTC().Format("2006-01-02 15:04:05")
			default:
				obj[c] = v
			}
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			return records, err
		}
		records = append(records, raw)
	}
	return records, rows.Err()
}

// rebuild replaces the database file with a freshly initialized schema.
func (db *DB) rebuild() error {
	if err := db.conn.Close(); err != nil {
		db.logger.Warn("repair: close before rebuild", slog.String("error", err.Error()))
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(db.path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	conn, err := openConn(db.path)
	if err != nil {
		return err
	}
	db.conn = conn
	return nil
}

// importTables loads the JSONL exports back, one row at a time, so a bad row
// only costs itself.
func (db *DB) importTables(ctx context.Context, dir string) (imported, failed map[string]int) {
	imported = make(map[string]int, len(tables))
	failed = make(map[string]int, len(tables))

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		db.logger.Error("repair: import connection", slog.String("error", err.Error()))
		return imported, failed
	}
	defer conn.Close()
	// Rows arrive in table order but may reference parents that were lost.
	_, _ = conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`)
	defer conn.ExecContext(context.Background(), `PRAGMA foreign_keys = ON`) //nolint:errcheck

	for _, t := range tables {
		records, err := readJSONL(filepath.Join(dir, t.name+".jsonl"))
		if err != nil {
			db.logger.Warn("repair: read export", slog.String("table", t.name), slog.String("error", err.Error()))
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
		insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), placeholders)

		for _, rec := range records {
			obj, err := decodeRecord(rec)
			if err != nil {
				failed[t.name]++
				continue
			}
			args := make([]any, len(t.columns))
			for i, c := range t.columns {
				args[i] = obj[c]
			}
			if _, err := conn.ExecContext(ctx, insertSQL, args...); err != nil {
				failed[t.name]++
				continue
			}
			imported[t.name]++
		}
	}
	return imported, failed
}

// decodeRecord keeps integral numbers as int64 so rowid columns reimport
// as integers.
func decodeRecord(rec json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			obj[k] = i
		} else if f, err := n.Float64(); err == nil {
			obj[k] = f
		}
	}
	return obj, nil
}

// readJSONL reads one JSON value per line, skipping blank and malformed lines.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, cp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL writes records one per line and fsyncs the file.
func writeJSONL(path string, records []json.RawMessage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		w.Write(rec) //nolint:errcheck // surfaced by Flush
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
