package migrate

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestEmbeddedSchemaCarriesUniqueGuards(t *testing.T) {
	sub, err := fs.Sub(embedded, embeddedDir)
	if err != nil {
		t.Fatalf("sub fs: %v", err)
	}
	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var all strings.Builder
	for _, e := range entries {
		b, err := fs.ReadFile(sub, e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		all.Write(b)
	}
	schema := all.String()

	for _, index := range []string{
		"ux_vouchers_code",
		"ux_vouchers_order_id",
		"ux_outbox_events_event_aggregate",
		"ux_group_participants_group_user",
		"ux_member_snapshots_user_merchant",
		"ux_settlement_records_voucher_id",
	} {
		if !strings.Contains(schema, "CREATE UNIQUE INDEX IF NOT EXISTS "+index) {
			t.Errorf("missing unique index %s", index)
		}
	}
	if !strings.Contains(schema, "CHECK (fee_amount + payout_amount = gross_amount)") {
		t.Errorf("settlement split constraint missing")
	}
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"20250101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20250101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"20250101000000_a.sql": {Data: []byte("-- +goose Up\n")},
		},
		"empty": {},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateFS(fsys); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Voucher Index!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_voucher_index.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := CreateSQLMigration(dir, "  !!  "); err == nil {
		t.Fatalf("expected error for empty sanitized name")
	}
}
