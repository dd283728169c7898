package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrywu96/AniverseGateway-sub001/internal/auth"
	"github.com/harrywu96/AniverseGateway-sub001/internal/db/models"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestEnsureAdmin(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.EnsureAdmin("admin", "changeme"))
	// second call is a no-op
	require.NoError(t, d.EnsureAdmin("admin", "other"))

	u, err := d.GetUserByUsername("admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.True(t, auth.CheckPassword("changeme", u.Password))
	assert.True(t, u.CanWrite())

	byID, err := d.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", byID.Username)

	_, err = d.GetUserByUsername("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettings(t *testing.T) {
	d := openTestDB(t)

	assert.Equal(t, "fallback", d.GetSetting("target_language", "fallback"))
	require.NoError(t, d.SetSetting("target_language", "fr"))
	require.NoError(t, d.SetSetting("target_language", "de"))
	assert.Equal(t, "de", d.GetSetting("target_language", "fallback"))
}

func TestTranslationPresets(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateTranslationPreset(TranslationPreset{
		Name:     "anime",
		Prompt:   "Keep honorifics.",
		Glossary: map[string]string{"senpai": "senpai"},
	})
	require.NoError(t, err)

	p, err := d.GetTranslationPreset(id)
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Style)
	assert.Equal(t, "senpai", p.Glossary["senpai"])

	p.Style = "formal"
	p.Glossary = nil
	require.NoError(t, d.UpdateTranslationPreset(*p))

	list, err := d.ListTranslationPresets()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "formal", list[0].Style)
	assert.Empty(t, list[0].Glossary)

	require.NoError(t, d.DeleteTranslationPreset(id))
	assert.ErrorIs(t, d.DeleteTranslationPreset(id), ErrNotFound)
	_, err = d.GetTranslationPreset(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackendProfiles(t *testing.T) {
	d := openTestDB(t)

	_, err := d.CreateBackendProfile(BackendProfile{Name: "local", Kind: "ollama", Model: "qwen2.5", Enabled: true, Priority: 2})
	require.NoError(t, err)
	id, err := d.CreateBackendProfile(BackendProfile{Name: "cloud", Kind: "openai", Model: "gpt-4o-mini", CredentialRef: "env:OPENAI_API_KEY", Enabled: true, Priority: 1})
	require.NoError(t, err)

	_, err = d.CreateBackendProfile(BackendProfile{Name: "cloud", Kind: "openai"})
	assert.Error(t, err, "names are unique")

	list, err := d.ListBackendProfiles()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cloud", list[0].Name)
	assert.Equal(t, "local", list[1].Name)

	p, err := d.GetBackendProfileByName("cloud")
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "env:OPENAI_API_KEY", p.CredentialRef)
	assert.True(t, p.Enabled)

	p.Enabled = false
	require.NoError(t, d.UpdateBackendProfile(*p))
	p, err = d.GetBackendProfile(id)
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	require.NoError(t, d.DeleteBackendProfile(id))
	_, err = d.GetBackendProfile(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsersAndAllSettings(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateUser("eve", "pw", models.RoleViewer)
	require.NoError(t, err)
	_, err = d.CreateUser("eve", "pw", models.RoleViewer)
	assert.Error(t, err)

	users, err := d.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.False(t, users[0].CanWrite())

	require.NoError(t, d.DeleteUser(id))
	assert.ErrorIs(t, d.DeleteUser(id), ErrNotFound)

	require.NoError(t, d.SetSetting("style", "anime"))
	all, err := d.GetAllSettings()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"style": "anime"}, all)
}
