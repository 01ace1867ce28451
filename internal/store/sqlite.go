package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/luoxia/steamtags/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// Universe is the durable cache of every application ID the catalog has
// ever reported, with per-ID bookkeeping for the classification loop.
type Universe struct {
	db *sql.DB
}

// OpenUniverse opens (and if needed initializes) the cache at dbPath.
func OpenUniverse(dbPath string) (*Universe, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Universe{db: db}, nil
}

// Close closes the database connection
func (u *Universe) Close() error {
	return u.db.Close()
}

// MergeApps upserts the fetched catalog into the cache and returns how many
// IDs were new. Existing rows keep their bookkeeping; only the name is
// refreshed, since titles do get renamed.
func (u *Universe) MergeApps(apps []domain.App) (int, error) {
	tx, err := u.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.Prepare("INSERT OR IGNORE INTO apps (appid, name) VALUES (?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	rename, err := tx.Prepare("UPDATE apps SET name = ? WHERE appid = ? AND name != ?")
	if err != nil {
		return 0, fmt.Errorf("prepare rename: %w", err)
	}
	defer rename.Close()

	newCount := 0
	for _, app := range apps {
		res, err := insert.Exec(app.ID, app.Name)
		if err != nil {
			return 0, fmt.Errorf("insert app %d: %w", app.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected for app %d: %w", app.ID, err)
		}
		if n > 0 {
			newCount++
			continue
		}
		if _, err := rename.Exec(app.Name, app.ID, app.Name); err != nil {
			return 0, fmt.Errorf("rename app %d: %w", app.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return newCount, nil
}

// PendingApps returns up to limit never-checked apps in ascending ID order,
// so interrupted runs resume deterministically.
func (u *Universe) PendingApps(limit int) ([]domain.App, error) {
	return u.queryApps(
		"SELECT appid, name FROM apps WHERE checked = FALSE ORDER BY appid LIMIT ?",
		limit,
	)
}

// RecheckableApps returns up to limit checked apps whose last check predates
// olderThan, ascending by ID.
func (u *Universe) RecheckableApps(limit int, olderThan time.Time) ([]domain.App, error) {
	return u.queryApps(
		"SELECT appid, name FROM apps WHERE checked = TRUE AND last_checked < ? ORDER BY appid LIMIT ?",
		olderThan.UTC(), limit,
	)
}

func (u *Universe) queryApps(query string, args ...any) ([]domain.App, error) {
	rows, err := u.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.App
	for rows.Next() {
		var a domain.App
		if err := rows.Scan(&a.ID, &a.Name); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// MarkChecked records a completed (or terminally failed) classification and
// resets the retry counter.
func (u *Universe) MarkChecked(appID int, now time.Time) error {
	_, err := u.db.Exec(
		"UPDATE apps SET checked = TRUE, retry_count = 0, last_checked = ? WHERE appid = ?",
		now.UTC(), appID,
	)
	if err != nil {
		return fmt.Errorf("mark checked %d: %w", appID, err)
	}
	return nil
}

// ResetChecked makes an app eligible for classification again, used when an
// ID is explicitly cleared from the invalid set.
func (u *Universe) ResetChecked(appID int) error {
	_, err := u.db.Exec(
		"UPDATE apps SET checked = FALSE, retry_count = 0, last_checked = NULL WHERE appid = ?",
		appID,
	)
	if err != nil {
		return fmt.Errorf("reset checked %d: %w", appID, err)
	}
	return nil
}

// BumpRetry increments the deferred-attempt counter for an app and returns
// the new value. The counter is bookkeeping only; a deferred app stays
// eligible on the next run regardless.
func (u *Universe) BumpRetry(appID int) (int, error) {
	_, err := u.db.Exec(
		"UPDATE apps SET retry_count = retry_count + 1 WHERE appid = ?", appID,
	)
	if err != nil {
		return 0, fmt.Errorf("bump retry %d: %w", appID, err)
	}

	var count int
	err = u.db.QueryRow(
		"SELECT retry_count FROM apps WHERE appid = ?", appID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read retry count %d: %w", appID, err)
	}
	return count, nil
}

// CountApps returns the size of the known universe.
func (u *Universe) CountApps() (int, error) {
	return u.countWhere("1 = 1")
}

// CountPending returns how many apps have never been checked.
func (u *Universe) CountPending() (int, error) {
	return u.countWhere("checked = FALSE")
}

func (u *Universe) countWhere(cond string) (int, error) {
	var n int
	err := u.db.QueryRow("SELECT COUNT(*) FROM apps WHERE " + cond).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count apps: %w", err)
	}
	return n, nil
}
