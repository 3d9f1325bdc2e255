package storage

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/scormview/pkg/errors"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	signer, err := NewURLSigner(testKey, "http://viewer.test/")
	require.NoError(t, err)
	store, err := NewLocalStore(t.TempDir(), signer)
	require.NoError(t, err)
	return store
}

func writeObject(t *testing.T, store *LocalStore, rel, body string) {
	t.Helper()
	full := filepath.Join(store.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func tokenFrom(t *testing.T, raw string) (string, string) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return strings.TrimPrefix(u.Path, ObjectsPrefix), u.Query().Get("token")
}

func TestSignedDownloadURLRoundTrip(t *testing.T) {
	store := newStore(t)
	writeObject(t, store, "dept/fire safety.zip", "PK")

	raw, err := store.SignedDownloadURL("dept/fire safety.zip", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "http://viewer.test/objects/dept/fire%20safety.zip?token="))

	path, token := tokenFrom(t, raw)
	claims, err := store.Signer().Verify(token, path)
	require.NoError(t, err)
	assert.Equal(t, "dept/fire safety.zip", claims.Path)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyRejectsOtherPath(t *testing.T) {
	store := newStore(t)
	token, err := store.Signer().Token("a.zip", time.Minute)
	require.NoError(t, err)

	_, err = store.Signer().Verify(token, "b.zip")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidToken))
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	signer, err := NewURLSigner(testKey, "")
	require.NoError(t, err)
	issued := time.Now().Add(-2 * time.Hour)
	signer.now = func() time.Time { return issued }
	token, err := signer.Token("a.zip", time.Hour)
	require.NoError(t, err)

	signer.now = time.Now
	_, err = signer.Verify(token, "a.zip")
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "token expired", e.Message)

	other, err := NewURLSigner("", "")
	require.NoError(t, err)
	foreign, err := other.Token("a.zip", time.Hour)
	require.NoError(t, err)
	_, err = signer.Verify(foreign, "a.zip")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidToken))
}

func TestTokenTTLBounds(t *testing.T) {
	signer, err := NewURLSigner(testKey, "")
	require.NoError(t, err)

	_, err = signer.Token("a.zip", 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	_, err = signer.Token("a.zip", MaxURLTTL+time.Second)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
	_, err = signer.Token("a.zip", MaxURLTTL)
	assert.NoError(t, err)
}

func TestSignedDownloadURLRequiresObject(t *testing.T) {
	store := newStore(t)
	_, err := store.SignedDownloadURL("missing.zip", time.Hour)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageRead))
}

func TestCleanPath(t *testing.T) {
	cases := map[string]string{
		"a.zip":          "a.zip",
		"/a/b.zip":       "a/b.zip",
		"a\\b.zip":       "a/b.zip",
		"./a//b.zip":     "a/b.zip",
		" dept/c.zip  ":  "dept/c.zip",
		"a/./nested.zip": "a/nested.zip",
	}
	for in, want := range cases {
		got, err := CleanPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "/", "../x.zip", "a/../../x.zip", "a\\..\\x.zip"} {
		_, err := CleanPath(bad)
		assert.Error(t, err, bad)
	}
}

func TestOpenAndList(t *testing.T) {
	store := newStore(t)
	writeObject(t, store, "b.zip", "second")
	writeObject(t, store, "a/first.ZIP", "first")
	writeObject(t, store, "notes.txt", "ignored")

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a/first.ZIP", list[0].Path)
	assert.Equal(t, "b.zip", list[1].Path)

	f, info, err := store.Open("b.zip")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "second", string(body))
	assert.Equal(t, int64(6), info.Size)

	_, _, err = store.Open("a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageRead), "directories are not objects")
}
