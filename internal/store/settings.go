package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"
)

// SettingKV is a single raw settings row, exposed for admin/debug listing.
type SettingKV struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

func (s *Store) ListSettings(ctx context.Context) ([]SettingKV, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SettingKV
	for rows.Next() {
		var kv SettingKV
		var updated int64
		if err := rows.Scan(&kv.Key, &kv.Value, &updated); err != nil {
			return nil, err
		}
		kv.UpdatedAt = time.Unix(updated, 0)
		out = append(out, kv)
	}
	return out, rows.Err()
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO settings(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  value=excluded.value,
  updated_at=excluded.updated_at
`, key, value, nowUnix())
	return err
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key=?`, key)
	return err
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}

func (s *Store) MustSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("missing setting: " + key)
	}
	return val, err
}

// RuntimeSettings is the daemon's typed view over the raw key/value rows,
// per spec.md section 3 (staging cap, concurrency, verify mode, staging
// dir) plus the supplemented driver-flags passthrough.
type RuntimeSettings struct {
	StagingCapBytes int64  `json:"staging_cap_bytes"`
	Concurrency     int    `json:"concurrency"`
	VerifyMode      string `json:"verify_mode"`
	StagingDir      string `json:"staging_dir"`
	DriverFlags     string `json:"driver_flags"`
}

// DefaultRuntimeSettings are the values seeded on first boot.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		StagingCapBytes: 20 * 1024 * 1024 * 1024, // 20 GiB
		Concurrency:     2,
		VerifyMode:      "strict",
		StagingDir:      "",
		DriverFlags:     "",
	}
}

func (s *Store) RuntimeSettings(ctx context.Context) (RuntimeSettings, error) {
	settings, err := s.ListSettings(ctx)
	if err != nil {
		return RuntimeSettings{}, err
	}
	m := map[string]string{}
	for _, kv := range settings {
		m[kv.Key] = kv.Value
	}
	d := DefaultRuntimeSettings()
	return RuntimeSettings{
		StagingCapBytes: parseInt64Default(m["staging_cap_bytes"], d.StagingCapBytes),
		Concurrency:     parseIntDefault(m["concurrency"], d.Concurrency),
		VerifyMode:      stringDefault(m["verify_mode"], d.VerifyMode),
		StagingDir:      m["staging_dir"],
		DriverFlags:     m["driver_flags"],
	}, nil
}

// SetRuntimeSettings writes every field back as individual key/value rows.
func (s *Store) SetRuntimeSettings(ctx context.Context, rs RuntimeSettings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := nowUnix()
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO settings(key, value, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	kv := map[string]string{
		"staging_cap_bytes": itoa64(rs.StagingCapBytes),
		"concurrency":       itoa(rs.Concurrency),
		"verify_mode":       rs.VerifyMode,
		"staging_dir":       rs.StagingDir,
		"driver_flags":      rs.DriverFlags,
	}
	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EnsureDefaultSettings seeds default rows for any settings key not yet
// present, so boot never runs against a half-empty settings table.
func (s *Store) EnsureDefaultSettings(ctx context.Context) error {
	existing, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	have := map[string]struct{}{}
	for _, k := range existing {
		have[k] = struct{}{}
	}
	d := DefaultRuntimeSettings()
	defaults := map[string]string{
		"staging_cap_bytes": itoa64(d.StagingCapBytes),
		"concurrency":       itoa(d.Concurrency),
		"verify_mode":       d.VerifyMode,
		"staging_dir":       d.StagingDir,
		"driver_flags":      d.DriverFlags,
	}
	for k, v := range defaults {
		if _, ok := have[k]; ok {
			continue
		}
		if err := s.SetSetting(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
