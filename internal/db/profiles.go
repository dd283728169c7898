package db

import (
	"database/sql"
	"errors"
)

// BackendProfile is a named, stored adapter configuration. Credentials are
// never stored directly; CredentialRef names where to find them.
type BackendProfile struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Kind           string  `json:"kind"`
	Shape          string  `json:"shape,omitempty"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	CredentialRef  string  `json:"credential_ref,omitempty"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxAttempts    int     `json:"max_attempts"`
	Enabled        bool    `json:"enabled"`
	Priority       int     `json:"priority"`
	CreatedAt      string  `json:"created_at"`
}

const profileColumns = "id, name, kind, shape, base_url, model, credential_ref, temperature, timeout_seconds, max_attempts, enabled, priority, created_at"

func scanProfile(row interface{ Scan(...any) error }) (BackendProfile, error) {
	var p BackendProfile
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.Shape, &p.BaseURL, &p.Model, &p.CredentialRef,
		&p.Temperature, &p.TimeoutSeconds, &p.MaxAttempts, &enabled, &p.Priority, &p.CreatedAt)
	p.Enabled = enabled != 0
	return p, err
}

// ListBackendProfiles returns all profiles ordered by priority
func (d *Database) ListBackendProfiles() ([]BackendProfile, error) {
	rows, err := d.db.Query("SELECT " + profileColumns + " FROM backend_profiles ORDER BY priority ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []BackendProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetBackendProfile returns a single profile by ID
func (d *Database) GetBackendProfile(id int64) (*BackendProfile, error) {
	p, err := scanProfile(d.db.QueryRow("SELECT "+profileColumns+" FROM backend_profiles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetBackendProfileByName returns a single profile by its unique name
func (d *Database) GetBackendProfileByName(name string) (*BackendProfile, error) {
	p, err := scanProfile(d.db.QueryRow("SELECT "+profileColumns+" FROM backend_profiles WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateBackendProfile adds a new profile
func (d *Database) CreateBackendProfile(p BackendProfile) (int64, error) {
	result, err := d.db.Exec(`
		INSERT INTO backend_profiles (name, kind, shape, base_url, model, credential_ref, temperature, timeout_seconds, max_attempts, enabled, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Kind, p.Shape, p.BaseURL, p.Model, p.CredentialRef,
		p.Temperature, p.TimeoutSeconds, p.MaxAttempts, boolInt(p.Enabled), p.Priority,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateBackendProfile modifies an existing profile
func (d *Database) UpdateBackendProfile(p BackendProfile) error {
	result, err := d.db.Exec(`
		UPDATE backend_profiles SET name=?, kind=?, shape=?, base_url=?, model=?, credential_ref=?,
			temperature=?, timeout_seconds=?, max_attempts=?, enabled=?, priority=?
		WHERE id=?`,
		p.Name, p.Kind, p.Shape, p.BaseURL, p.Model, p.CredentialRef,
		p.Temperature, p.TimeoutSeconds, p.MaxAttempts, boolInt(p.Enabled), p.Priority, p.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteBackendProfile removes a profile by ID
func (d *Database) DeleteBackendProfile(id int64) error {
	result, err := d.db.Exec("DELETE FROM backend_profiles WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
