// ABOUTME: SQLite persistence for scripts, dialogs, and their transition logs.
// ABOUTME: Satisfies dialog.ScriptResolver so embed-dialog nodes resolve from the scripts table.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389-research/parley/dialog"
	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// DialogSummary is a dialogs-table row for list queries.
type DialogSummary struct {
	Key              string
	ScriptIdentifier string
	Started          string
	Finished         *string
	FinishReason     string
}

// Store persists scripts, dialog sessions, and their append-only transition
// logs in a single SQLite database.
type Store struct {
	db *sql.DB
}

var _ dialog.ScriptResolver = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS scripts (
			identifier TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			definition TEXT NOT NULL,
			labels TEXT NOT NULL,
			embeddable INTEGER NOT NULL DEFAULT 0,
			created TEXT NOT NULL,
			updated TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS dialogs (
			key TEXT PRIMARY KEY,
			script_identifier TEXT,
			snapshot TEXT,
			started TEXT NOT NULL,
			finished TEXT,
			finish_reason TEXT NOT NULL,
			metadata TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			dialog_key TEXT NOT NULL,
			"when" TEXT NOT NULL,
			state_id TEXT NOT NULL,
			prior_state_id TEXT,
			metadata TEXT,
			FOREIGN KEY (dialog_key) REFERENCES dialogs(key)
		);

		CREATE INDEX IF NOT EXISTS idx_transitions_dialog
			ON transitions(dialog_key, "when", id);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveScript upserts a script by identifier. Created is preserved across
// upserts; Updated is stamped on every save.
func (s *Store) SaveScript(script *dialog.Script) error {
	if script == nil || script.Identifier == "" {
		return fmt.Errorf("script has no identifier")
	}
	definition, err := json.Marshal(script.Definition)
	if err != nil {
		return fmt.Errorf("encode definition: %w", err)
	}
	labels, err := json.Marshal(script.Labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	now := time.Now().UTC()
	created := script.Created
	if created.IsZero() {
		created = now
	}
	_, err = s.db.Exec(
		`INSERT INTO scripts (identifier, name, definition, labels, embeddable, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(identifier) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			labels = excluded.labels,
			embeddable = excluded.embeddable,
			updated = excluded.updated`,
		script.Identifier,
		script.Name,
		string(definition),
		string(labels),
		script.Embeddable,
		created.Format(timeLayout),
		now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert script: %w", err)
	}
	return nil
}

// LoadScript returns the script with the given identifier, or (nil, nil)
// when no such script exists.
func (s *Store) LoadScript(identifier string) (*dialog.Script, error) {
	return s.scanScript(s.db.QueryRow(
		`SELECT identifier, name, definition, labels, embeddable, created, updated
		 FROM scripts WHERE identifier = ?`, identifier))
}

// FindScript returns the embeddable script with the given identifier, or
// (nil, nil) when none exists. This is the embed expander's resolver.
func (s *Store) FindScript(identifier string) (*dialog.Script, error) {
	return s.scanScript(s.db.QueryRow(
		`SELECT identifier, name, definition, labels, embeddable, created, updated
		 FROM scripts WHERE identifier = ? AND embeddable = 1`, identifier))
}

// ListScripts returns every stored script, most recently updated first.
func (s *Store) ListScripts() ([]*dialog.Script, error) {
	rows, err := s.db.Query(
		`SELECT identifier, name, definition, labels, embeddable, created, updated
		 FROM scripts ORDER BY updated DESC, identifier ASC`)
	if err != nil {
		return nil, fmt.Errorf("query scripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scripts []*dialog.Script
	for rows.Next() {
		script, err := s.scanScriptRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

func (s *Store) scanScript(row *sql.Row) (*dialog.Script, error) {
	script, err := s.scanScriptRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return script, err
}

func (s *Store) scanScriptRow(scan func(...any) error) (*dialog.Script, error) {
	var (
		script           dialog.Script
		definition       string
		labels           string
		created, updated string
	)
	if err := scan(&script.Identifier, &script.Name, &definition, &labels,
		&script.Embeddable, &created, &updated); err != nil {
		return nil, err
	}
	defs, err := dialog.LoadDefinition([]byte(definition))
	if err != nil {
		return nil, err
	}
	script.Definition = defs
	if labels != "" && labels != "null" {
		if err := json.Unmarshal([]byte(labels), &script.Labels); err != nil {
			return nil, fmt.Errorf("parse labels: %w", err)
		}
	}
	if script.Created, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parse script created: %w", err)
	}
	if script.Updated, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parse script updated: %w", err)
	}
	return &script, nil
}

// SaveDialog upserts the session row and appends any transitions not yet
// stored. Entries without an ID are assigned one first, so hand-built logs
// persist cleanly; re-saving a dialog never duplicates rows.
func (s *Store) SaveDialog(d *dialog.Dialog) error {
	if d == nil || d.Key == "" {
		return fmt.Errorf("dialog has no key")
	}
	var scriptIdentifier *string
	if d.Script != nil && d.Script.Identifier != "" {
		scriptIdentifier = &d.Script.Identifier
	}
	var snapshot *string
	if d.Snapshot != nil {
		data, err := json.Marshal(d.Snapshot)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		text := string(data)
		snapshot = &text
	}
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("encode dialog metadata: %w", err)
	}
	var finished *string
	if d.Finished != nil {
		text := d.Finished.Format(timeLayout)
		finished = &text
	}

	_, err = s.db.Exec(
		`INSERT INTO dialogs (key, script_identifier, snapshot, started, finished, finish_reason, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			script_identifier = excluded.script_identifier,
			snapshot = excluded.snapshot,
			started = excluded.started,
			finished = excluded.finished,
			finish_reason = excluded.finish_reason,
			metadata = excluded.metadata`,
		d.Key,
		scriptIdentifier,
		snapshot,
		d.Started.Format(timeLayout),
		finished,
		string(d.FinishReason),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("upsert dialog: %w", err)
	}

	for i := range d.Transitions {
		entry := &d.Transitions[i]
		if entry.ID == "" {
			entry.ID = dialog.NewULID()
		}
		var entryMetadata *string
		if entry.Metadata != nil {
			data, err := json.Marshal(entry.Metadata)
			if err != nil {
				return fmt.Errorf("encode transition metadata: %w", err)
			}
			text := string(data)
			entryMetadata = &text
		}
		_, err = s.db.Exec(
			`INSERT INTO transitions (id, dialog_key, "when", state_id, prior_state_id, metadata)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			entry.ID,
			d.Key,
			entry.When.Format(timeLayout),
			entry.StateID,
			entry.PriorStateID,
			entryMetadata,
		)
		if err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
	}
	return nil
}

// LoadDialog rebuilds a persisted dialog, transitions included, or returns
// (nil, nil) when the key is unknown. The restored dialog resolves embedded
// scripts through this store.
func (s *Store) LoadDialog(key string) (*dialog.Dialog, error) {
	var (
		scriptIdentifier sql.NullString
		snapshot         sql.NullString
		started          string
		finished         sql.NullString
		reason           string
		metadata         string
	)
	err := s.db.QueryRow(
		`SELECT script_identifier, snapshot, started, finished, finish_reason, metadata
		 FROM dialogs WHERE key = ?`, key).
		Scan(&scriptIdentifier, &snapshot, &started, &finished, &reason, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query dialog: %w", err)
	}

	cfg := dialog.DialogConfig{Key: key, Resolver: s}
	if scriptIdentifier.Valid {
		script, err := s.LoadScript(scriptIdentifier.String)
		if err != nil {
			return nil, err
		}
		cfg.Script = script
	}
	if snapshot.Valid && snapshot.String != "" {
		var defs []map[string]any
		if err := json.Unmarshal([]byte(snapshot.String), &defs); err != nil {
			return nil, fmt.Errorf("parse snapshot: %w", err)
		}
		cfg.Snapshot = defs
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil, fmt.Errorf("parse dialog metadata: %w", err)
	}
	cfg.Metadata = meta

	d := dialog.RestoreDialog(cfg)
	if d.Started, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse dialog started: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(timeLayout, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse dialog finished: %w", err)
		}
		d.Finished = &t
	}
	d.FinishReason = dialog.FinishReason(reason)

	rows, err := s.db.Query(
		`SELECT id, "when", state_id, prior_state_id, metadata
		 FROM transitions WHERE dialog_key = ? ORDER BY "when" ASC, id ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			entry         dialog.LogEntry
			when          string
			prior         sql.NullString
			entryMetadata sql.NullString
		)
		if err := rows.Scan(&entry.ID, &when, &entry.StateID, &prior, &entryMetadata); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		if entry.When, err = time.Parse(timeLayout, when); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		if prior.Valid {
			p := prior.String
			entry.PriorStateID = &p
		}
		if entryMetadata.Valid && entryMetadata.String != "" {
			if err := json.Unmarshal([]byte(entryMetadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("parse transition metadata: %w", err)
			}
		}
		d.Transitions = append(d.Transitions, entry)
	}
	return d, rows.Err()
}

// ActiveDialog returns the unfinished dialog for key, or (nil, nil) when
// the key is unknown or its dialog already finished.
func (s *Store) ActiveDialog(key string) (*dialog.Dialog, error) {
	d, err := s.LoadDialog(key)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Finished != nil {
		return nil, nil
	}
	return d, nil
}

// ListDialogs returns a summary for every stored dialog, most recently
// started first.
func (s *Store) ListDialogs() ([]DialogSummary, error) {
	rows, err := s.db.Query(
		`SELECT key, script_identifier, started, finished, finish_reason
		 FROM dialogs ORDER BY started DESC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query dialogs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dialogs []DialogSummary
	for rows.Next() {
		var (
			d                DialogSummary
			scriptIdentifier sql.NullString
			finished         sql.NullString
		)
		if err := rows.Scan(&d.Key, &scriptIdentifier, &d.Started, &finished, &d.FinishReason); err != nil {
			return nil, fmt.Errorf("scan dialog row: %w", err)
		}
		if scriptIdentifier.Valid {
			d.ScriptIdentifier = scriptIdentifier.String
		}
		if finished.Valid {
			f := finished.String
			d.Finished = &f
		}
		dialogs = append(dialogs, d)
	}
	return dialogs, rows.Err()
}

// DeleteDialog removes a stored dialog and its transitions. Deleting an
// unknown key is a no-op.
func (s *Store) DeleteDialog(key string) error {
	if _, err := s.db.Exec(`DELETE FROM transitions WHERE dialog_key = ?`, key); err != nil {
		return fmt.Errorf("delete transitions: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM dialogs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete dialog: %w", err)
	}
	return nil
}
