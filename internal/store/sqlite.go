package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// errClosed is returned by operations on a closed store.
var errClosed = errors.New("store is closed")

// openDatabase opens (or creates) a SQLite database with WAL mode and the
// pragmas both stores rely on. A pre-open integrity check detects
// corruption; a corrupt database is cleared so the caller can rebuild,
// reported through the returned needsRebuild flag.
func openDatabase(path string, requiredTable string) (db *sql.DB, needsRebuild bool, err error) {
	if path != ":memory:" {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, false, fmt.Errorf("create directory: %w", mkErr)
		}

		if validErr := validateIntegrity(path, requiredTable); validErr != nil {
			slog.Warn("database corrupted, clearing for rebuild",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, false, fmt.Errorf("corrupted database at %s cannot be removed: %w (original: %v)", path, rmErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			needsRebuild = true
		}
	}

	// _pragma options in the DSN apply to every pooled connection, not
	// just the one a plain PRAGMA statement happens to run on.
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=temp_store(MEMORY)"
	}

	db, err = sql.Open("sqlite", dsn)
	if err != nil {
		return nil, false, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// Each connection to :memory: is a separate database, so the
		// pool must stay at one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		pragmas := []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA temp_store = MEMORY",
		}
		for _, pragma := range pragmas {
			if _, pErr := db.Exec(pragma); pErr != nil {
				_ = db.Close()
				return nil, false, fmt.Errorf("set pragma: %w", pErr)
			}
		}
	} else {
		// WAL lets readers run in parallel with each other and with the
		// single writer, so searches get a small pool. Writers are
		// serialized above this layer (store mutex + index write lock).
		conns := runtime.NumCPU()
		if conns < 4 {
			conns = 4
		}
		db.SetMaxOpenConns(conns)
		db.SetMaxIdleConns(conns)
	}
	db.SetConnMaxLifetime(0)

	return db, needsRebuild, nil
}

// validateIntegrity checks a SQLite database before opening it for use.
// A missing file is fine (it will be created); anything unreadable or
// failing the integrity check is reported as corruption.
func validateIntegrity(path, requiredTable string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	if requiredTable != "" {
		var count int
		err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, requiredTable).Scan(&count)
		if err != nil {
			return fmt.Errorf("cannot query schema: %w", err)
		}
		// A database without the table yet is new, not corrupt, as long
		// as it is otherwise empty.
		if count == 0 {
			var tables int
			if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table'`).Scan(&tables); err == nil && tables > 0 {
				return fmt.Errorf("required table %q missing", requiredTable)
			}
		}
	}

	return nil
}

// prefixWhere builds a WHERE clause matching a path or its subtree.
// An empty prefix matches everything.
func prefixWhere(column, prefix string) (string, []any) {
	if prefix == "" {
		return "1=1", nil
	}
	return fmt.Sprintf("(%s = ? OR %s LIKE ? ESCAPE '\\')", column, column),
		[]any{prefix, likeEscape(prefix) + "/%"}
}

// likeEscape escapes LIKE metacharacters in a literal prefix.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
