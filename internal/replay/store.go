package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoReplay reports a match id with no archived recording.
var ErrNoReplay = errors.New("replay: no recording for match")

// ErrNoBuild reports a build id with no registered client artifact.
var ErrNoBuild = errors.New("replay: no client artifact for build")

// ErrReplayExists guards the append-only archive: a match id is written once.
var ErrReplayExists = errors.New("replay: recording already archived")

const schema = `
CREATE TABLE IF NOT EXISTS replays (
	match_id TEXT PRIMARY KEY,
	build_version TEXT NOT NULL,
	final_tick INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL,
	log BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS builds (
	build_version TEXT PRIMARY KEY,
	client_artifact TEXT NOT NULL,
	registered_at INTEGER NOT NULL
);
`

// Store archives finished replay logs in SQLite, keyed by match id, and keeps
// the build-to-client-artifact mapping that lets old replays be played back
// on the build that recorded them.
type Store struct {
	sqlDB *sql.DB
}

// Info describes one archived replay.
type Info struct {
	MatchID      string    `json:"matchId"`
	BuildVersion string    `json:"buildVersion"`
	FinalTick    uint64    `json:"finalTick"`
	RecordedAt   time.Time `json:"recordedAt"`
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenStore opens (or creates) the archive database and applies the schema.
func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("replay: store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("replay: open store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("replay: ping store: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("replay: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveReplay archives one finished recording as a single atomic write. The
// archive is append-only: saving the same match twice fails.
func (s *Store) SaveReplay(ctx context.Context, info Info, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info.MatchID == "" {
		return fmt.Errorf("replay: match id is required")
	}
	recordedAt := info.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO replays (match_id, build_version, final_tick, recorded_at, log)
		 VALUES (?, ?, ?, ?, ?)`,
		info.MatchID, info.BuildVersion, int64(info.FinalTick), toMillis(recordedAt), data)
	if err != nil {
		return fmt.Errorf("replay: save %s: %w", info.MatchID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replay: save %s: %w", info.MatchID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrReplayExists, info.MatchID)
	}
	return nil
}

// LoadReplay returns the raw recording for a match id.
func (s *Store) LoadReplay(ctx context.Context, matchID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT log FROM replays WHERE match_id = ?`, matchID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoReplay, matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("replay: load %s: %w", matchID, err)
	}
	return data, nil
}

// ListReplays returns archive metadata, newest first.
func (s *Store) ListReplays(ctx context.Context) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT match_id, build_version, final_tick, recorded_at
		 FROM replays ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("replay: list: %w", err)
	}
	defer rows.Close()
	infos := make([]Info, 0)
	for rows.Next() {
		var info Info
		var finalTick, recordedAt int64
		if err := rows.Scan(&info.MatchID, &info.BuildVersion, &finalTick, &recordedAt); err != nil {
			return nil, fmt.Errorf("replay: list scan: %w", err)
		}
		info.FinalTick = uint64(finalTick)
		info.RecordedAt = fromMillis(recordedAt)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("replay: list rows: %w", err)
	}
	return infos, nil
}

// RegisterBuild records the client artifact that matches an engine build, so
// a deployment can always serve the client that understands an old replay.
func (s *Store) RegisterBuild(ctx context.Context, buildVersion, clientArtifact string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO builds (build_version, client_artifact, registered_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(build_version) DO UPDATE SET client_artifact = excluded.client_artifact`,
		buildVersion, clientArtifact, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("replay: register build %s: %w", buildVersion, err)
	}
	return nil
}

// ClientArtifact resolves the client artifact registered for a build.
func (s *Store) ClientArtifact(ctx context.Context, buildVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var artifact string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT client_artifact FROM builds WHERE build_version = ?`, buildVersion).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNoBuild, buildVersion)
	}
	if err != nil {
		return "", fmt.Errorf("replay: resolve build %s: %w", buildVersion, err)
	}
	return artifact, nil
}
