package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "http://example.test/blobs/", "sign-secret")
	require.NoError(t, err)
	return store
}

func TestPutAndSignedURLRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ref, err := store.Put(ctx, "users/7/captures/3/photo.png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "local://users/7/captures/3/photo.png", ref)

	url, err := store.SignedURL(ctx, ref, time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://example.test/blobs/"))

	token := strings.TrimPrefix(url, "http://example.test/blobs/")
	rc, name, err := store.OpenSigned(token)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "photo.png", name)
}

func TestSignedURLExpires(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ref, err := store.Put(ctx, "users/1/a.txt", []byte("x"))
	require.NoError(t, err)

	url, err := store.SignedURL(ctx, ref, -time.Second)
	require.NoError(t, err)

	_, _, err = store.OpenSigned(strings.TrimPrefix(url, "http://example.test/blobs/"))
	assert.True(t, errors.Is(err, ErrInvalidSignedURL))
}

func TestPutRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []string{"../etc/passwd", "users/1/../../x", ""} {
		_, err := store.Put(context.Background(), p, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestEvidencePathIsUserPrefixed(t *testing.T) {
	p := EvidencePath(9, 4, "Report.PDF")
	assert.True(t, strings.HasPrefix(p, "users/9/captures/4/"))
	assert.True(t, strings.HasSuffix(p, ".pdf"))
}

func TestGetReadsStoredBlob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ref, err := store.Put(ctx, "users/2/captures/5/note.txt", []byte("hello"))
	require.NoError(t, err)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.Get(ctx, "s3://bucket/key")
	assert.ErrorIs(t, err, ErrInvalidRef)
}
