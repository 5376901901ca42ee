package ledger

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/flaviostutz/sharedfs/filesystem"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

// SQLite is a Ledger kept in a sqlite database file
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating when needed) the database at path and applies the schema
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	logrus.Debugf("Opening sqlite ledger at %s", path)
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "error opening ledger %s", path)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY between our own conns
	db.SetMaxOpenConns(1)

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema, err := migrationFiles.ReadFile("migration/001_filesystems.sql")
	if err != nil {
		return errors.Wrap(err, "failed to read migration file")
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}
	return nil
}

func (l *SQLite) Create(ctx context.Context, fs filesystem.Filesystem) (*filesystem.Filesystem, error) {
	fs, err := prepare(fs)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO filesystems (id, name, scope, project_id, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, query,
		fs.ID, fs.Name, fs.Scope.String(), fs.Project, fs.Size, fs.CreatedAt.Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, errors.Wrapf(filesystem.ErrDuplicateName, "filesystem %s", fs.Name)
		}
		return nil, errors.Wrapf(err, "error inserting filesystem %s", fs.Name)
	}
	return &fs, nil
}

func (l *SQLite) Get(ctx context.Context, name string) (*filesystem.Filesystem, error) {
	query := `SELECT id, name, scope, project_id, size, created_at FROM filesystems WHERE name = ?`
	fs, err := scanFilesystem(l.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(filesystem.ErrNotFound, "filesystem %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error reading filesystem %s", name)
	}
	return fs, nil
}

func (l *SQLite) Delete(ctx context.Context, name string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM filesystems WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "error deleting filesystem %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "error deleting filesystem %s", name)
	}
	if n == 0 {
		return errors.Wrapf(filesystem.ErrNotFound, "filesystem %s", name)
	}
	return nil
}

func (l *SQLite) List(ctx context.Context) ([]filesystem.Filesystem, error) {
	query := `SELECT id, name, scope, project_id, size, created_at FROM filesystems ORDER BY seq`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "error listing filesystems")
	}
	defer rows.Close()

	var result []filesystem.Filesystem
	for rows.Next() {
		fs, err := scanFilesystem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "error listing filesystems")
		}
		result = append(result, *fs)
	}
	return result, rows.Err()
}

func (l *SQLite) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFilesystem(row scanner) (*filesystem.Filesystem, error) {
	var scope string
	var createdAt int64
	fs := &filesystem.Filesystem{}
	if err := row.Scan(&fs.ID, &fs.Name, &scope, &fs.Project, &fs.Size, &createdAt); err != nil {
		return nil, err
	}
	parsed, err := filesystem.ParseScope(scope)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt record for filesystem %s", fs.Name)
	}
	fs.Scope = parsed
	fs.CreatedAt = time.Unix(createdAt, 0).UTC()
	return fs, nil
}
