package stage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/storage"
	"github.com/maauso/screenshot-api/internal/video"
)

// recorder collects progress values.
type recorder struct {
	mu     sync.Mutex
	values []int
}

func (r *recorder) fn(p int) {
	r.mu.Lock()
	r.values = append(r.values, p)
	r.mu.Unlock()
}

func (r *recorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.values...)
}

func assertMonotonic(t *testing.T, values []int) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased at %d: %v", i, values)
	}
	for _, v := range values {
		assert.True(t, v >= 0 && v <= 100, "progress out of range: %d", v)
	}
}

func writeSource(t *testing.T, size int) video.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o600))
	return video.Source{Name: "clip.mp4", Size: int64(size), MIMEType: "video/mp4", Path: path}
}

func TestUpload_Success(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	src := writeSource(t, 256*1024)
	rec := &recorder{}

	handle, err := NewUpload(store, 0, nil).Upload(context.Background(), src, rec.fn)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(handle.Key, "uploads/"))
	assert.True(t, strings.HasSuffix(handle.Key, "/clip.mp4"))
	assert.NotEmpty(t, handle.URL)
	assert.Equal(t, src, handle.Source)

	values := rec.get()
	require.NotEmpty(t, values)
	assert.Equal(t, 0, values[0])
	assert.Equal(t, 100, values[len(values)-1])
	assertMonotonic(t, values)

	hundreds := 0
	for _, v := range values {
		if v == 100 {
			hundreds++
		}
	}
	assert.Equal(t, 1, hundreds)

	body, err := store.Open(context.Background(), handle.Key)
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Len(t, data, 256*1024)
}

func TestUpload_S3Endpoint(t *testing.T) {
	var received int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/screens/uploads/"), r.URL.Path)
		n, err := io.Copy(io.Discard, r.Body)
		assert.NoError(t, err)
		received = n
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store, err := storage.NewS3Storage(t.TempDir(), storage.S3Config{
		Bucket:          "screens",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	src := writeSource(t, 64*1024)
	rec := &recorder{}

	handle, err := NewUpload(store, 0, nil).Upload(context.Background(), src, rec.fn)
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/screens/"+handle.Key, handle.URL)
	assert.Equal(t, int64(64*1024), received)

	values := rec.get()
	require.NotEmpty(t, values)
	assert.Equal(t, 100, values[len(values)-1])
	assertMonotonic(t, values)
}

// rewindingStore reads the body twice, seeking back in between, the way a
// client computing a checksum before sending does.
type rewindingStore struct {
	storage.ObjectStore
	passes [][]byte
}

func (r *rewindingStore) Put(_ context.Context, key string, data io.Reader, _ int64, _ string) (string, error) {
	rs, ok := data.(io.ReadSeeker)
	if !ok {
		return "", errors.New("body is not seekable")
	}
	for i := 0; i < 2; i++ {
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		b, err := io.ReadAll(rs)
		if err != nil {
			return "", err
		}
		r.passes = append(r.passes, b)
	}
	return "mem://" + key, nil
}

func TestUpload_BodyCanBeRewound(t *testing.T) {
	src := writeSource(t, 1000)
	store := &rewindingStore{}
	rec := &recorder{}

	_, err := NewUpload(store, 0, nil).Upload(context.Background(), src, rec.fn)
	require.NoError(t, err)

	require.Len(t, store.passes, 2)
	assert.Len(t, store.passes[0], 1000)
	assert.Equal(t, store.passes[0], store.passes[1])

	values := rec.get()
	assertMonotonic(t, values)
	assert.Equal(t, 100, values[len(values)-1])
}

// failingStore reads part of the data and then fails.
type failingStore struct {
	storage.ObjectStore
	readBytes int
}

func (f *failingStore) Put(_ context.Context, _ string, data io.Reader, _ int64, _ string) (string, error) {
	buf := make([]byte, f.readBytes)
	_, _ = io.ReadFull(data, buf)
	return "", errors.New("connection reset")
}

func TestUpload_FailureStopsProgress(t *testing.T) {
	src := writeSource(t, 1000)
	rec := &recorder{}

	_, err := NewUpload(&failingStore{readBytes: 400}, 0, nil).Upload(context.Background(), src, rec.fn)
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "connection reset")

	values := rec.get()
	assertMonotonic(t, values)
	assert.Equal(t, 40, values[len(values)-1])
	assert.NotContains(t, values, 100)
}

func TestUpload_MissingFile(t *testing.T) {
	_, err := NewUpload(&failingStore{}, 0, nil).Upload(context.Background(),
		video.Source{Name: "gone.mp4", Path: filepath.Join(t.TempDir(), "gone.mp4")}, nil)
	assert.ErrorIs(t, err, ErrUploadFailed)
}

// blockingStore reads until the context is done.
type blockingStore struct {
	storage.ObjectStore
	started chan struct{}
}

func (b *blockingStore) Put(ctx context.Context, _ string, data io.Reader, _ int64, _ string) (string, error) {
	buf := make([]byte, 10)
	if _, err := data.Read(buf); err != nil {
		return "", err
	}
	close(b.started)
	<-ctx.Done()
	_, err := data.Read(buf)
	return "", err
}

func TestUpload_Cancelled(t *testing.T) {
	src := writeSource(t, 1000)
	store := &blockingStore{started: make(chan struct{})}
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := NewUpload(store, 0, nil).Upload(ctx, src, rec.fn)
		errCh <- err
	}()

	<-store.started
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, rec.get(), 100)
}

func TestUpload_TimeoutIsUploadFailure(t *testing.T) {
	src := writeSource(t, 1000)
	store := &blockingStore{started: make(chan struct{})}

	_, err := NewUpload(store, 20*time.Millisecond, nil).Upload(context.Background(), src, nil)
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// fakeService is an extract.Service driven by a function.
type fakeService func(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error)

func (f fakeService) Extract(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
	return f(ctx, handle, onProgress)
}

func TestProcessing_Success(t *testing.T) {
	svc := fakeService(func(_ context.Context, _ video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
		for _, p := range []int{25, 20, 50, 100} {
			onProgress(p)
		}
		return []video.Screenshot{
			{Ordinal: 7, URL: "c", TimestampSeconds: 10.5},
			{Ordinal: 3, URL: "a", TimestampSeconds: 1.5},
			{Ordinal: 9, URL: "b", TimestampSeconds: 4.5},
			{Ordinal: 1, URL: "d", TimestampSeconds: 7.5},
		}, nil
	})
	rec := &recorder{}

	shots, err := NewProcessing(svc, 0, nil).Process(context.Background(), video.UploadHandle{Key: "k"}, rec.fn)
	require.NoError(t, err)

	require.Len(t, shots, 4)
	urls := make([]string, len(shots))
	for i, s := range shots {
		assert.Equal(t, i+1, s.Ordinal)
		urls[i] = s.URL
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, urls)
	assert.Equal(t, []int{0, 25, 50, 99, 100}, rec.get())
}

func TestProcessing_Failures(t *testing.T) {
	t.Run("service error", func(t *testing.T) {
		svc := fakeService(func(context.Context, video.UploadHandle, progress.Func) ([]video.Screenshot, error) {
			return nil, errors.New("decoder crashed")
		})
		rec := &recorder{}
		_, err := NewProcessing(svc, 0, nil).Process(context.Background(), video.UploadHandle{}, rec.fn)
		require.ErrorIs(t, err, ErrProcessingFailed)
		assert.NotContains(t, rec.get(), 100)
	})

	t.Run("empty result", func(t *testing.T) {
		svc := fakeService(func(context.Context, video.UploadHandle, progress.Func) ([]video.Screenshot, error) {
			return nil, nil
		})
		_, err := NewProcessing(svc, 0, nil).Process(context.Background(), video.UploadHandle{}, nil)
		require.ErrorIs(t, err, ErrProcessingFailed)
		assert.ErrorIs(t, err, ErrNoScreenshots)
	})

	t.Run("timeout", func(t *testing.T) {
		svc := fakeService(func(ctx context.Context, _ video.UploadHandle, _ progress.Func) ([]video.Screenshot, error) {
			<-ctx.Done()
			return nil, errors.New("aborted")
		})
		_, err := NewProcessing(svc, 20*time.Millisecond, nil).Process(context.Background(), video.UploadHandle{}, nil)
		require.ErrorIs(t, err, ErrProcessingFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("late progress after failure is dropped", func(t *testing.T) {
		var late progress.Func
		svc := fakeService(func(_ context.Context, _ video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
			onProgress(30)
			late = onProgress
			return nil, errors.New("boom")
		})
		rec := &recorder{}
		_, err := NewProcessing(svc, 0, nil).Process(context.Background(), video.UploadHandle{}, rec.fn)
		require.Error(t, err)
		late(80)
		assert.Equal(t, []int{0, 30}, rec.get())
	})
}
