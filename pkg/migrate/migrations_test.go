package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/bazari-settlement/pkg/migrate"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestSettlementCoreMigrationConstraints(t *testing.T) {
	content := readMigration(t, "*_create_settlement_core.sql")

	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"chain_order_id bigint UNIQUE",
		"CHECK (total_bzr = subtotal_bzr + shipping_bzr)",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
		"CREATE TABLE IF NOT EXISTS escrow_logs",
		"'FUNDS_PENDING'",
		"DROP TABLE IF EXISTS orders",
	} {
		require.Contains(t, content, sub)
	}
}

func TestOrderLockSubmissionMigration(t *testing.T) {
	content := readMigration(t, "*_add_order_lock_submission.sql")
	require.Contains(t, content, "ADD COLUMN IF NOT EXISTS lock_tx_hash text")
	require.Contains(t, content, "ADD COLUMN IF NOT EXISTS lock_submitted_at timestamptz")
	require.Contains(t, content, "DROP COLUMN IF EXISTS lock_submitted_at")
}

func TestOutboxMigration(t *testing.T) {
	content := readMigration(t, "*_create_outbox.sql")
	require.Contains(t, content, "CREATE TABLE IF NOT EXISTS outbox_events")
	require.Contains(t, content, "CREATE TABLE IF NOT EXISTS outbox_dlq")
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20260301090000")
	require.NoError(t, err)
	require.Equal(t, int64(20260301090000), v)

	_, err = migrate.ParseVersion("2026")
	require.Error(t, err)
	_, err = migrate.ParseVersion("2026030109000x")
	require.Error(t, err)
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Dispute Index!")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, "_add_dispute_index.sql"))
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	require.Error(t, err)
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_one.sql"), []byte(body), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_two.sql"), []byte(body), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}

func TestValidateDirRequiresDownAfterUp(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_swapped.sql"), []byte(body), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}
