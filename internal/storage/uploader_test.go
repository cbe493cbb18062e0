package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.types = map[string]string{}
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func testUploader(p *fakePutter) *Uploader {
	u := newUploader(Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/", Prefix: "/generations/"}, p)
	u.now = func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }
	return u
}

func TestNewUploaderValidatesConfig(t *testing.T) {
	_, err := NewUploader(Config{})
	require.Error(t, err)

	_, err = NewUploader(Config{Bucket: "b", Region: "us-east-1"})
	require.Error(t, err)

	u, err := NewUploader(Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn"})
	require.NoError(t, err)
	assert.Equal(t, "generations", u.cfg.Prefix)
}

func TestGenerateKeyIsDatedAndTyped(t *testing.T) {
	u := testUploader(&fakePutter{})

	key := u.generateKey("image/png")
	assert.True(t, strings.HasPrefix(key, "generations/2026/03/07/"), key)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
	assert.NotEqual(t, key, u.generateKey("image/png"))
}

func TestUploadReturnsPublicURL(t *testing.T) {
	p := &fakePutter{}
	u := testUploader(p)

	url, err := u.Upload(context.Background(), []byte("jpegdata"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/generations/2026/03/07/"), url)
	assert.True(t, strings.HasSuffix(url, ".jpg"), url)
	assert.Len(t, p.objects, 1)

	_, err = u.Upload(context.Background(), nil, "image/png")
	require.Error(t, err)
}

func TestUploadWrapsStorageError(t *testing.T) {
	u := testUploader(&fakePutter{err: errors.New("denied")})

	_, err := u.Upload(context.Background(), []byte("x"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestMirrorCopiesRemoteObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shot.png":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = io.WriteString(w, "pngbytes")
		case "/img":
			w.Header().Set("Content-Type", "image/webp; charset=binary")
			_, _ = io.WriteString(w, "webpbytes")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := &fakePutter{}
	u := testUploader(p)

	url, err := u.Mirror(context.Background(), srv.URL+"/shot.png?sig=1")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	url, err = u.Mirror(context.Background(), srv.URL+"/img")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".webp"), url)

	_, err = u.Mirror(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Len(t, p.objects, 2)
}

func TestExtensionFromContentType(t *testing.T) {
	assert.Equal(t, ".png", extensionFromContentType("IMAGE/PNG"))
	assert.Equal(t, ".jpg", extensionFromContentType("image/jpg"))
	assert.Equal(t, ".mp4", extensionFromContentType("video/mp4"))
	assert.Equal(t, ".bin", extensionFromContentType("text/plain"))
}
