package migrate

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

var (
	fileNameRe     = regexp.MustCompile(`^\d{14}_[a-z0-9_]+\.sql$`)
	nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// CreateSQLMigration writes an empty timestamped goose migration into dir and
// returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := nameSanitizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		return "", fmt.Errorf("name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", time.Now().UTC().Format("20060102150405"), slug))
	body := fmt.Sprintf("%s\n-- +goose StatementBegin\n-- %s\n-- +goose StatementEnd\n\n%s\n-- +goose StatementBegin\n-- revert %s\n-- +goose StatementEnd\n",
		upMarker, slug, downMarker, slug)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

// ValidateDir checks file names and versions through goose's collector and
// requires every migration to declare an Up section followed by a Down one.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		if !fileNameRe.MatchString(e.Name()) {
			return fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name())
		}
	}

	migrations, err := goose.CollectMigrations(dir, 0, math.MaxInt64)
	if err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	seen := make(map[int64]string, len(migrations))
	for _, m := range migrations {
		if prev, ok := seen[m.Version]; ok {
			return fmt.Errorf("duplicate migration version %d in %q and %q", m.Version, prev, filepath.Base(m.Source))
		}
		seen[m.Version] = filepath.Base(m.Source)

		b, err := os.ReadFile(m.Source)
		if err != nil {
			return fmt.Errorf("read %q: %w", m.Source, err)
		}
		txt := string(b)
		up, down := strings.Index(txt, upMarker), strings.Index(txt, downMarker)
		if up < 0 || down < 0 || down < up {
			return fmt.Errorf("migration %q needs %q followed by %q", filepath.Base(m.Source), upMarker, downMarker)
		}
	}
	return nil
}
