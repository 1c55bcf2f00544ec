package database

import (
	"slices"
	"testing"
	"testing/fstest"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_external_data.up.sql":     {Data: []byte("CREATE TABLE b ();")},
		"001_state_snapshots.up.sql":   {Data: []byte("CREATE TABLE a ();")},
		"001_state_snapshots.down.sql": {Data: []byte("DROP TABLE a;")},
		"003_later.up.sql":             {Data: []byte("CREATE TABLE c ();")},
		"README.md":                    {Data: []byte("notes")},
		"nested/004_skip.up.sql":       {Data: []byte("CREATE TABLE d ();")},
	}

	tests := []struct {
		name    string
		applied map[string]struct{}
		want    []string
	}{
		{
			name:    "fresh database",
			applied: map[string]struct{}{},
			want:    []string{"001_state_snapshots.up.sql", "002_external_data.up.sql", "003_later.up.sql"},
		},
		{
			name:    "partially applied",
			applied: map[string]struct{}{"001_state_snapshots.up.sql": {}},
			want:    []string{"002_external_data.up.sql", "003_later.up.sql"},
		},
		{
			name: "up to date",
			applied: map[string]struct{}{
				"001_state_snapshots.up.sql": {},
				"002_external_data.up.sql":   {},
				"003_later.up.sql":           {},
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PendingMigrations(fsys, tt.applied)
			if err != nil {
				t.Fatalf("PendingMigrations() unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("PendingMigrations() = %v, want %v", got, tt.want)
			}
		})
	}
}
