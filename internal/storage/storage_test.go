package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/straye-as/merchant-ledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := "invoices/2025/INV-2025-0001.pdf"
	n, err := s.Put(ctx, key, "application/pdf", strings.NewReader("first"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = s.Put(ctx, key, "application/pdf", strings.NewReader("second version"))
	require.NoError(t, err)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "second version", string(body))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{name: "plain", key: "invoices/a.pdf", want: "invoices/a.pdf"},
		{name: "leading slash", key: "/invoices/a.pdf", want: "invoices/a.pdf"},
		{name: "backslashes", key: `invoices\a.pdf`, want: "invoices/a.pdf"},
		{name: "traversal", key: "../etc/passwd", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.CleanKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
