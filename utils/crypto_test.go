package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	plain := []byte("backup payload")

	sealed, err := Seal(plain, key)
	require.NoError(t, err)
	require.True(t, IsSealed(sealed))
	require.NotContains(t, string(sealed), "backup payload")

	got, err := Open(sealed, key)
	require.NoError(t, err)
	require.Equal(t, plain, got)

	_, err = Open(sealed, bytes.Repeat([]byte{8}, 32))
	require.Error(t, err)

	_, err = Open(sealed, nil)
	require.ErrorIs(t, err, ErrSealedNoKey)
}

func TestOpenPassesPlainThrough(t *testing.T) {
	got, err := Open([]byte{0x1f, 0x8b, 0x08}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0x1f, 0x8b, 0x08}, got)
}

func TestSealRejectsShortKey(t *testing.T) {
	_, err := Seal([]byte("x"), []byte("short"))
	require.Error(t, err)
}
