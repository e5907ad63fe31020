package totp

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, passphrase string) *cryptox.Engine {
	t.Helper()
	e := cryptox.NewEngine(cryptox.TestKDFParams())
	_, _, err := e.DeriveKey([]byte(passphrase), nil)
	require.NoError(t, err)
	return e
}

func TestSecretStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "totp.enc")
	st := NewSecretStore(path)
	engine := newEngine(t, "pw")

	assert.False(t, st.Exists())
	_, err := st.Load(engine)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, st.Save(engine, rfcSecret))
	assert.True(t, st.Exists())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), rfcSecret), "secret must not be stored in clear text")

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	got, err := st.Load(engine)
	require.NoError(t, err)
	assert.Equal(t, rfcSecret, got)
}

func TestSecretStore_WrongKey(t *testing.T) {
	st := NewSecretStore(filepath.Join(t.TempDir(), "totp.enc"))
	require.NoError(t, st.Save(newEngine(t, "pw"), rfcSecret))

	_, err := st.Load(newEngine(t, "other"))
	require.ErrorIs(t, err, common.ErrAuthentication)
}

func TestSecretStore_SaveWithoutKey(t *testing.T) {
	st := NewSecretStore(filepath.Join(t.TempDir(), "totp.enc"))
	err := st.Save(&cryptox.Engine{}, rfcSecret)
	require.ErrorIs(t, err, common.ErrConfiguration)
	assert.False(t, st.Exists())
}

func TestSecretStore_Delete(t *testing.T) {
	st := NewSecretStore(filepath.Join(t.TempDir(), "totp.enc"))
	require.NoError(t, st.Delete())

	require.NoError(t, st.Save(newEngine(t, "pw"), rfcSecret))
	require.NoError(t, st.Delete())
	assert.False(t, st.Exists())
}
