package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateFreshThenNoop(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if schema != (Schema{From: 0, To: 1}) || !schema.Upgraded() {
		t.Errorf("first Migrate() = %+v, want 0 -> 1", schema)
	}

	schema, err = db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if schema.Upgraded() || schema.To != 1 {
		t.Errorf("second Migrate() = %+v, want no-op at 1", schema)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() error = %v, want ErrDirtySchema", err)
	}
}

func TestProfileRoundTripAndClear(t *testing.T) {
	db := testDB(t)

	p, err := db.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Fatalf("fresh db profile = %+v, want nil", p)
	}

	if err := db.SetProfile(Profile{ID: 7, Username: "ann", Nickname: "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetToken("tok"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPinned([]int64{3}); err != nil {
		t.Fatal(err)
	}

	p, err = db.Profile()
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.ID != 7 || p.Nickname != "Ann" {
		t.Fatalf("profile = %+v", p)
	}

	if err := db.ClearSession(); err != nil {
		t.Fatal(err)
	}
	if p, _ := db.Profile(); p != nil {
		t.Errorf("profile after clear = %+v", p)
	}
	if tok, _ := db.Token(); tok != "" {
		t.Errorf("token after clear = %q", tok)
	}
	pinned, err := db.Pinned()
	if err != nil {
		t.Fatal(err)
	}
	if len(pinned) != 1 || pinned[0] != 3 {
		t.Errorf("pinned after clear = %v, want [3]", pinned)
	}
}

func TestIDSetsAreSortedAndUnique(t *testing.T) {
	db := testDB(t)

	tests := []struct {
		name string
		set  func([]int64) error
		get  func() ([]int64, error)
	}{
		{"pinned", db.SetPinned, db.Pinned},
		{"muted", db.SetMuted, db.Muted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.get()
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Fatalf("empty set = %v", got)
			}
			if err := tt.set([]int64{9, 2, 9, 5}); err != nil {
				t.Fatal(err)
			}
			got, err = tt.get()
			if err != nil {
				t.Fatal(err)
			}
			want := []int64{2, 5, 9}
			if len(got) != len(want) {
				t.Fatalf("got %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("got %v, want %v", got, want)
				}
			}
			if err := tt.set(nil); err != nil {
				t.Fatal(err)
			}
			if got, _ := tt.get(); len(got) != 0 {
				t.Errorf("cleared set = %v", got)
			}
		})
	}
}

func TestGetRejectsCorruptValue(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO prefs (key, value) VALUES (?, ?)`, KeyPinned, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Pinned(); err == nil {
		t.Error("expected decode error")
	}
}
