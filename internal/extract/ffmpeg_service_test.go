package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/screenshot-api/internal/storage"
	"github.com/maauso/screenshot-api/internal/video"
)

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, src video.Source) (video.Metadata, error) {
	args := m.Called(ctx, src)
	return args.Get(0).(video.Metadata), args.Error(1)
}

func (m *mockProber) Duration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

type mockFrames struct {
	mock.Mock
}

func (m *mockFrames) ExtractFrameAt(ctx context.Context, input string, at float64, output string) error {
	args := m.Called(ctx, input, at, output)
	return args.Error(0)
}

func (m *mockFrames) DetectScenes(ctx context.Context, input string, threshold float64) ([]float64, error) {
	args := m.Called(ctx, input, threshold)
	if v := args.Get(0); v != nil {
		return v.([]float64), args.Error(1)
	}
	return nil, args.Error(1)
}

// writeFrame makes ExtractFrameAt produce a small file at the output path.
func writeFrame(args mock.Arguments) {
	_ = os.WriteFile(args.String(3), []byte("frame"), 0o600)
}

func setupService(t *testing.T) (*storage.LocalStorage, video.UploadHandle) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	key := "uploads/abc/clip.mp4"
	url, err := store.Put(context.Background(), key, bytes.NewReader([]byte("video-bytes")), 11, "video/mp4")
	require.NoError(t, err)

	return store, video.UploadHandle{Key: key, URL: url, Source: video.Source{Name: "clip.mp4"}}
}

func TestFFmpegService_Extract(t *testing.T) {
	store, handle := setupService(t)
	prober := &mockProber{}
	frames := &mockFrames{}

	prober.On("Duration", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasSuffix(p, ".mp4")
	})).Return(12.0, nil)
	frames.On("ExtractFrameAt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(writeFrame).Return(nil).Times(4)

	svc := NewFFmpegService(store, prober, frames, nil, WithWorkDir(t.TempDir()))

	var reports []int
	shots, err := svc.Extract(context.Background(), handle, func(p int) { reports = append(reports, p) })
	require.NoError(t, err)
	require.Len(t, shots, 4)

	wantTimes := []float64{1.5, 4.5, 7.5, 10.5}
	for i, shot := range shots {
		assert.Equal(t, i+1, shot.Ordinal)
		assert.InDelta(t, wantTimes[i], shot.TimestampSeconds, 1e-9)
		assert.True(t, strings.HasPrefix(shot.Key, "screenshots/"))
		assert.True(t, strings.HasSuffix(shot.Key, ".png"))
		assert.True(t, strings.HasPrefix(shot.URL, "file://"))

		body, err := store.Open(context.Background(), shot.Key)
		require.NoError(t, err)
		data, _ := io.ReadAll(body)
		_ = body.Close()
		assert.Equal(t, "frame", string(data))
	}

	assert.Equal(t, []int{0, 10, 32, 55, 77, 100}, reports)
	prober.AssertExpectations(t)
	frames.AssertExpectations(t)
}

func TestFFmpegService_Extract_SceneChange(t *testing.T) {
	store, handle := setupService(t)
	prober := &mockProber{}
	frames := &mockFrames{}

	prober.On("Duration", mock.Anything, mock.Anything).Return(30.0, nil)
	frames.On("DetectScenes", mock.Anything, mock.Anything, 0.5).Return([]float64{4, 17}, nil)
	frames.On("ExtractFrameAt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(writeFrame).Return(nil)

	svc := NewFFmpegService(store, prober, frames, SceneChange{Threshold: 0.5},
		WithWorkDir(t.TempDir()), WithFormat("JPG"))

	shots, err := svc.Extract(context.Background(), handle, nil)
	require.NoError(t, err)
	require.Len(t, shots, 2)
	assert.InDelta(t, 4.0, shots[0].TimestampSeconds, 1e-9)
	assert.True(t, strings.HasSuffix(shots[1].Key, "shot_02.jpg"))
}

func TestFFmpegService_Extract_FrameFailureDiscardsPartialSet(t *testing.T) {
	store, handle := setupService(t)
	prober := &mockProber{}
	frames := &mockFrames{}

	prober.On("Duration", mock.Anything, mock.Anything).Return(8.0, nil)
	frames.On("ExtractFrameAt", mock.Anything, mock.Anything, 1.0, mock.Anything).Run(writeFrame).Return(nil)
	frames.On("ExtractFrameAt", mock.Anything, mock.Anything, 3.0, mock.Anything).Run(writeFrame).Return(nil)
	frames.On("ExtractFrameAt", mock.Anything, mock.Anything, 5.0, mock.Anything).Return(errors.New("decode error"))

	var stored []string
	svc := NewFFmpegService(&recordingStore{ObjectStore: store, keys: &stored}, prober, frames, nil, WithWorkDir(t.TempDir()))

	_, err := svc.Extract(context.Background(), handle, nil)
	require.Error(t, err)
	require.Len(t, stored, 2)

	for _, key := range stored {
		_, err := store.Open(context.Background(), key)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	}
}

func TestFFmpegService_Extract_Errors(t *testing.T) {
	t.Run("empty handle", func(t *testing.T) {
		svc := NewFFmpegService(nil, nil, nil, nil)
		_, err := svc.Extract(context.Background(), video.UploadHandle{}, nil)
		assert.ErrorIs(t, err, ErrEmptyHandle)
	})

	t.Run("missing object", func(t *testing.T) {
		store, _ := setupService(t)
		svc := NewFFmpegService(store, &mockProber{}, &mockFrames{}, nil, WithWorkDir(t.TempDir()))
		_, err := svc.Extract(context.Background(), video.UploadHandle{Key: "uploads/missing.mp4"}, nil)
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	t.Run("zero duration", func(t *testing.T) {
		store, handle := setupService(t)
		prober := &mockProber{}
		prober.On("Duration", mock.Anything, mock.Anything).Return(0.0, nil)
		svc := NewFFmpegService(store, prober, &mockFrames{}, nil, WithWorkDir(t.TempDir()))
		_, err := svc.Extract(context.Background(), handle, nil)
		assert.ErrorIs(t, err, ErrNoDuration)
	})
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("png"))
	assert.Equal(t, "image/jpeg", contentType("jpg"))
	assert.Equal(t, "image/jpeg", contentType("jpeg"))
}

// recordingStore records the keys passed to Put.
type recordingStore struct {
	storage.ObjectStore
	keys *[]string
}

func (r *recordingStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	*r.keys = append(*r.keys, key)
	return r.ObjectStore.Put(ctx, key, data, size, contentType)
}
