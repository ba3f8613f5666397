package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_CreatesHistoryTables(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	for _, table := range []string{"sync_sessions", "sync_items", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestReadStatus(t *testing.T) {
	db := openTestDB(t)

	before, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if before.Current != 0 || before.Dirty || before.Latest == 0 {
		t.Errorf("ReadStatus() on empty db = %+v", before)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	after, err := ReadStatus(db)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if after.Current != after.Latest || after.Latest != before.Latest {
		t.Errorf("ReadStatus() after migration = %+v, latest before %d", after, before.Latest)
	}
}

func TestCheckDBMigrationStatus(t *testing.T) {
	tests := []struct {
		name      string
		migrate   int
		wantNeeds bool
		wantErr   bool
	}{
		{name: "empty database", migrate: 0, wantNeeds: true, wantErr: true},
		{name: "migrated", migrate: 1},
		{name: "migrated twice", migrate: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			for i := 0; i < tt.migrate; i++ {
				if err := MigrateUp(db); err != nil {
					t.Fatalf("MigrateUp() #%d error = %v", i+1, err)
				}
			}

			err := CheckDBMigrationStatus(db)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckDBMigrationStatus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, ErrNeedsMigration); got != tt.wantNeeds {
				t.Errorf("errors.Is(err, ErrNeedsMigration) = %v, want %v", got, tt.wantNeeds)
			}
		})
	}
}

func TestCheckDBMigrationStatus_Dirty(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatalf("marking dirty: %v", err)
	}

	err := CheckDBMigrationStatus(db)
	if err == nil || errors.Is(err, ErrNeedsMigration) {
		t.Errorf("CheckDBMigrationStatus() error = %v, want a dirty schema error", err)
	}
}

func TestSchema_Constraints(t *testing.T) {
	session := `INSERT INTO sync_sessions (id, owner, collection, mode, status, started_at, finished_at)
		VALUES ('s1', 'sumsum', 'holiday', 'both', 'success', datetime('now'), datetime('now'))`

	tests := []struct {
		name    string
		setup   []string
		stmt    string
		wantErr bool
	}{
		{
			name:    "item without session",
			stmt:    `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('none', 'abc', 'upload', 'a.jpg')`,
			wantErr: true,
		},
		{
			name:    "unknown direction",
			setup:   []string{session},
			stmt:    `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'sideways', 'a.jpg')`,
			wantErr: true,
		},
		{
			name:  "same blob both ways",
			setup: []string{session, `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'upload', 'a.jpg')`},
			stmt:  `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'download', 'a.jpg')`,
		},
		{
			name:    "same blob twice one way",
			setup:   []string{session, `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'upload', 'a.jpg')`},
			stmt:    `INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'upload', 'b.jpg')`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t)
			if err := MigrateUp(db); err != nil {
				t.Fatalf("MigrateUp() error = %v", err)
			}
			for _, s := range tt.setup {
				if _, err := db.Exec(s); err != nil {
					t.Fatalf("setup %q: %v", s, err)
				}
			}
			if _, err := db.Exec(tt.stmt); (err != nil) != tt.wantErr {
				t.Errorf("Exec() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchema_CascadeDelete(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	stmts := []string{
		`INSERT INTO sync_sessions (id, owner, collection, mode, status, started_at, finished_at)
		 VALUES ('s1', 'sumsum', 'holiday', 'both', 'success', datetime('now'), datetime('now'))`,
		`INSERT INTO sync_items (session_id, object_id, direction, filename) VALUES ('s1', 'abc', 'upload', 'a.jpg')`,
		`DELETE FROM sync_sessions WHERE id = 's1'`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sync_items").Scan(&n); err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if n != 0 {
		t.Errorf("sync_items has %d rows after deleting the session, want 0", n)
	}
}

// openTestDB opens a private in-memory database with foreign keys on.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enabling foreign keys: %v", err)
	}
	return db
}
