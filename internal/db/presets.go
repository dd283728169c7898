package db

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// TranslationPreset represents a saved custom translation prompt
type TranslationPreset struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Style     string            `json:"style"`
	Prompt    string            `json:"prompt"`
	Glossary  map[string]string `json:"glossary"`
	CreatedAt string            `json:"created_at"`
}

const presetColumns = "id, name, style, prompt, glossary, created_at"

func scanPreset(row interface{ Scan(...any) error }) (TranslationPreset, error) {
	var p TranslationPreset
	var glossary string
	if err := row.Scan(&p.ID, &p.Name, &p.Style, &p.Prompt, &glossary, &p.CreatedAt); err != nil {
		return p, err
	}
	p.Glossary = map[string]string{}
	if glossary != "" {
		if err := json.Unmarshal([]byte(glossary), &p.Glossary); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ListTranslationPresets returns all saved presets ordered by creation time
func (d *Database) ListTranslationPresets() ([]TranslationPreset, error) {
	rows, err := d.db.Query("SELECT " + presetColumns + " FROM translation_presets ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	presets := []TranslationPreset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// GetTranslationPreset returns a preset by ID
func (d *Database) GetTranslationPreset(id int64) (*TranslationPreset, error) {
	p, err := scanPreset(d.db.QueryRow("SELECT "+presetColumns+" FROM translation_presets WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateTranslationPreset saves a new custom translation preset
func (d *Database) CreateTranslationPreset(p TranslationPreset) (int64, error) {
	glossary, err := marshalGlossary(p.Glossary)
	if err != nil {
		return 0, err
	}
	result, err := d.db.Exec(
		"INSERT INTO translation_presets (name, style, prompt, glossary) VALUES (?, ?, ?, ?)",
		p.Name, defaultStyle(p.Style), p.Prompt, glossary,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// UpdateTranslationPreset replaces a preset's fields
func (d *Database) UpdateTranslationPreset(p TranslationPreset) error {
	glossary, err := marshalGlossary(p.Glossary)
	if err != nil {
		return err
	}
	result, err := d.db.Exec(
		"UPDATE translation_presets SET name = ?, style = ?, prompt = ?, glossary = ? WHERE id = ?",
		p.Name, defaultStyle(p.Style), p.Prompt, glossary, p.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteTranslationPreset removes a saved preset by ID
func (d *Database) DeleteTranslationPreset(id int64) error {
	result, err := d.db.Exec("DELETE FROM translation_presets WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func marshalGlossary(g map[string]string) (string, error) {
	if g == nil {
		g = map[string]string{}
	}
	b, err := json.Marshal(g)
	return string(b), err
}

func defaultStyle(s string) string {
	if s == "" {
		return "custom"
	}
	return s
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
