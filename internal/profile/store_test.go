package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestStore_SaveRestore(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Default", "Cookies"), "cookie-data")
	writeFile(t, filepath.Join(src, "Local State"), "{}")
	writeFile(t, filepath.Join(src, "SingletonLock"), "host-1234")

	p, err := store.Save("work", src)
	require.NoError(t, err)
	assert.Equal(t, "work", p.Name)
	assert.Positive(t, p.Size)

	dst := filepath.Join(t.TempDir(), "restored")
	restored, err := store.Restore("work", dst)
	require.NoError(t, err)
	assert.True(t, restored)

	data, err := os.ReadFile(filepath.Join(dst, "Default", "Cookies"))
	require.NoError(t, err)
	assert.Equal(t, "cookie-data", string(data))
	assert.FileExists(t, filepath.Join(dst, "Local State"))
	assert.NoFileExists(t, filepath.Join(dst, "SingletonLock"))
}

func TestStore_RestoreMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	restored, err := store.Restore("never-saved", t.TempDir())
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestStore_ListAndDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a"), "x")

	_, err = store.Save("b", src)
	require.NoError(t, err)
	_, err = store.Save("a", src)
	require.NoError(t, err)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)

	require.NoError(t, store.Delete("a"))
	require.ErrorIs(t, store.Delete("a"), ErrNotFound)
	_, err = store.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RejectsBadNames(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := store.Save(name, t.TempDir())
		assert.Error(t, err, name)
	}
}
