// Package storage persists approval requests, meetings and idempotency keys.
//
// Schema changes are embedded SQL files under migrations/<driver>:
//   - Filenames must match the pattern: NNNN_name.up.sql or NNNN_name.down.sql
//     (regex: ^(?P<Version>\d{4})\_(?P<Name>[^.]+)\.(?P<Direction>(up|down))\.sql$).
//   - Version is a four-digit integer (e.g. 0001, 0002).
//   - Direction is either "up" (apply) or "down" (rollback).
//
// Migrations are loaded from the embedded files at runtime, so adding or
// removing migration files requires rebuilding the binary.
package storage

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
)

//go:embed migrations/**/*.sql
var migrationsFS embed.FS

var reMigrationFilename = regexp.MustCompile(`^(?P<Version>\d{4})\_(?P<Name>[^.]+)\.(?P<Direction>(up|down))\.sql$`)

var (
	ErrMigrateCurrentVersionSameAsTarget = errors.New("current version is the same as target version")
)

// SchemaMigration represents a single database migration
type SchemaMigration struct {
	Version int
	Name    string
	Up      bool
	SQL     string
}

// After is the schema version once the migration has run.
func (m *SchemaMigration) After() int {
	if m.Up {
		return m.Version
	}
	return m.Version - 1
}

// MigrationRunner discovers the migrations of one driver.
type MigrationRunner struct {
	driver string
	logger *slog.Logger
}

func NewMigrationRunner(driver string) *MigrationRunner {
	return &MigrationRunner{
		driver: driver,
		logger: slog.With("component", "migrations", "driver", driver),
	}
}

func (mr *MigrationRunner) dir() (string, error) {
	switch mr.driver {
	case "sqlite3":
		return "migrations/sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", mr.driver)
	}
}

func (mr *MigrationRunner) all() ([]SchemaMigration, error) {
	dirPath, err := mr.dir()
	if err != nil {
		return nil, err
	}
	entries, err := migrationsFS.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var migrations []SchemaMigration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		migration, err := mr.parseMigrationFile(path.Join(dirPath, entry.Name()))
		if err != nil {
			mr.logger.Warn("Failed to parse migration file", "file", entry.Name(), "error", err)
			continue
		}
		migrations = append(migrations, migration)
	}
	return migrations, nil
}

// GetLatestMigrationVersion returns the highest "up" version available.
func (mr *MigrationRunner) GetLatestMigrationVersion() (int, error) {
	migrations, err := mr.all()
	if err != nil {
		return -1, err
	}
	latestVersion := 0
	for _, migration := range migrations {
		if migration.Up && migration.Version > latestVersion {
			latestVersion = migration.Version
		}
	}
	return latestVersion, nil
}

// LoadMigrations returns the migrations that move the schema from prior to
// target, in execution order. A target of -1 means the latest version, 0
// the empty database.
func (mr *MigrationRunner) LoadMigrations(prior int, target int) ([]SchemaMigration, error) {
	if target == -1 {
		latestVersion, err := mr.GetLatestMigrationVersion()
		if err != nil {
			return nil, fmt.Errorf("failed to get latest migration version: %w", err)
		}
		target = latestVersion
	}

	if prior == target {
		return nil, ErrMigrateCurrentVersionSameAsTarget
	}

	all, err := mr.all()
	if err != nil {
		return nil, err
	}

	var migrations []SchemaMigration
	for _, migration := range all {
		if mr.skipMigration(migration, prior, target) {
			continue
		}
		migrations = append(migrations, migration)
	}

	if prior < target {
		sort.Slice(migrations, func(i, j int) bool {
			return migrations[i].Version < migrations[j].Version
		})
	} else {
		sort.Slice(migrations, func(i, j int) bool {
			return migrations[i].Version > migrations[j].Version
		})
	}

	mr.logger.Info("Loaded migrations", "count", len(migrations), "from_version", prior, "to_version", target)
	return migrations, nil
}

func (mr *MigrationRunner) skipMigration(migration SchemaMigration, currentVersion int, targetVersion int) bool {
	if targetVersion > currentVersion {
		// Skip if the migration version is greater than the target or less than or equal to the previous version.
		return !migration.Up || migration.Version > targetVersion || migration.Version <= currentVersion
	}
	// Going down: skip if the migration is at or below the target, or above the current version.
	return migration.Up || migration.Version <= targetVersion || migration.Version > currentVersion
}

// parseMigrationFile parses a migration filename and reads its content
func (mr *MigrationRunner) parseMigrationFile(filePath string) (SchemaMigration, error) {
	filename := path.Base(filePath)
	filenameParts := reMigrationFilename.FindStringSubmatch(filename)
	if filenameParts == nil {
		return SchemaMigration{}, fmt.Errorf("invalid migration filename: %s", filename)
	}

	sql, err := migrationsFS.ReadFile(filePath)
	if err != nil {
		return SchemaMigration{}, fmt.Errorf("failed to read migration file: %w", err)
	}

	version, _ := strconv.Atoi(filenameParts[reMigrationFilename.SubexpIndex("Version")])
	return SchemaMigration{
		Version: version,
		Name:    filenameParts[reMigrationFilename.SubexpIndex("Name")],
		Up:      filenameParts[reMigrationFilename.SubexpIndex("Direction")] == "up",
		SQL:     string(sql),
	}, nil
}
