package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/tasklens/internal/vecmath"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding ingested tickets and the embedding
// cache the rebuild reads from.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tasklens.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Tickets ---

// UpsertTickets inserts or replaces the given tickets in one transaction.
func (s *Store) UpsertTickets(tickets []Ticket) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tickets (key, summary, description, comments, assignee, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			summary = excluded.summary,
			description = excluded.description,
			comments = excluded.comments,
			assignee = excluded.assignee,
			created_at = excluded.created_at,
			resolved_at = excluded.resolved_at`)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range tickets {
		var resolved sql.NullString
		if t.Resolved != nil {
			resolved = sql.NullString{String: t.Resolved.UTC().Format(time.RFC3339), Valid: true}
		}
		if _, err := stmt.Exec(
			t.Key, t.Summary, t.Description, t.Comments, t.Assignee,
			t.Created.UTC().Format(time.RFC3339), resolved,
		); err != nil {
			return fmt.Errorf("upserting ticket %s: %w", t.Key, err)
		}
	}
	return tx.Commit()
}

// GetTicket returns a single ticket by key.
func (s *Store) GetTicket(key string) (Ticket, error) {
	row := s.db.QueryRow(`
		SELECT key, summary, description, comments, assignee, created_at, resolved_at
		FROM tickets WHERE key = ?`, key)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return Ticket{}, ErrNotFound
	}
	return t, err
}

// ListTickets returns all tickets ordered by creation time, then key.
func (s *Store) ListTickets() ([]Ticket, error) {
	rows, err := s.db.Query(`
		SELECT key, summary, description, comments, assignee, created_at, resolved_at
		FROM tickets ORDER BY created_at ASC, key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// CountTickets returns the number of stored tickets.
func (s *Store) CountTickets() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tickets").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (Ticket, error) {
	var t Ticket
	var createdAt string
	var resolvedAt sql.NullString
	if err := r.Scan(&t.Key, &t.Summary, &t.Description, &t.Comments, &t.Assignee, &createdAt, &resolvedAt); err != nil {
		return Ticket{}, err
	}
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Ticket{}, fmt.Errorf("parsing created_at for %s: %w", t.Key, err)
	}
	t.Created = created
	if resolvedAt.Valid {
		resolved, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return Ticket{}, fmt.Errorf("parsing resolved_at for %s: %w", t.Key, err)
		}
		t.Resolved = &resolved
	}
	return t, nil
}

// --- Embedding cache ---

// GetVector returns the cached embedding for a (key, model) pair.
func (s *Store) GetVector(key, model string) (Vector, error) {
	var v Vector
	var blob []byte
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT key, model, content_hash, embedding, updated_at
		FROM ticket_vectors WHERE key = ? AND model = ?`, key, model,
	).Scan(&v.Key, &v.Model, &v.ContentHash, &blob, &updatedAt)
	if err == sql.ErrNoRows {
		return Vector{}, ErrNotFound
	}
	if err != nil {
		return Vector{}, err
	}
	if v.Embedding, err = vecmath.Decode(blob); err != nil {
		return Vector{}, fmt.Errorf("decoding embedding for %s: %w", key, err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Vector{}, fmt.Errorf("parsing updated_at for %s: %w", key, err)
	}
	return v, nil
}

// PutVector stores (or replaces) the cached embedding for a (key, model) pair.
func (s *Store) PutVector(key, model, contentHash string, embedding []float32) error {
	_, err := s.db.Exec(`
		INSERT INTO ticket_vectors (key, model, content_hash, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key, model) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		key, model, contentHash, vecmath.Encode(embedding), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
