package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dw-console-gateway/internal/model"
)

func testRecord() Record {
	return Record{
		Token: "tok1",
		User: &model.User{
			ID:       1,
			Username: "alice",
			Email:    "alice@example.com",
			Role:     "admin",
		},
		License: &model.LicenseStatus{Valid: true, Message: "Licensed"},
		SavedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()

	t.Run("round-trips a record", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)

		want := testRecord()
		require.NoError(t, s.Save(context.Background(), want))

		got, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, want.Token, got.Token)
		require.Equal(t, want.User.Username, got.User.Username)
		require.True(t, got.License.Valid)
	})

	t.Run("missing file loads as absent", func(t *testing.T) {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "session.json"), nil)
		require.NoError(t, err)

		_, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.False(t, present)
	})

	t.Run("corrupt file loads as absent, not as an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)

		_, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.False(t, present)
	})

	t.Run("record without a token loads as absent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), Record{User: testRecord().User}))

		_, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.False(t, present)
	})

	t.Run("clear removes the file and tolerates repeats", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), testRecord()))

		require.NoError(t, s.Clear(context.Background()))
		require.NoError(t, s.Clear(context.Background()))

		_, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.False(t, present)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "state", "session.json")
		s, err := NewFileStore(path, nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), testRecord()))
	})
}

func TestFileStoreEncryption(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0x42}, 32)

	t.Run("rejects keys of the wrong size", func(t *testing.T) {
		_, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"), []byte("short"))
		require.Error(t, err)
	})

	t.Run("token is not stored in the clear", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.bin")
		s, err := NewFileStore(path, key)
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), testRecord()))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "tok1")
		require.NotContains(t, string(raw), "alice")

		got, present, err := s.Load(context.Background())
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, "tok1", got.Token)
	})

	t.Run("wrong key loads as absent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.bin")
		s, err := NewFileStore(path, key)
		require.NoError(t, err)
		require.NoError(t, s.Save(context.Background(), testRecord()))

		other, err := NewFileStore(path, bytes.Repeat([]byte{0x13}, 32))
		require.NoError(t, err)

		_, present, err := other.Load(context.Background())
		require.NoError(t, err)
		require.False(t, present)
	})
}
