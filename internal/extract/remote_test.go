package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/screenshot-api/internal/extractsvc"
	"github.com/maauso/screenshot-api/internal/video"
)

type mockExtractClient struct {
	mock.Mock
}

func (m *mockExtractClient) Submit(ctx context.Context, req extractsvc.SubmitRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockExtractClient) Poll(ctx context.Context, jobID string) (extractsvc.PollResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(extractsvc.PollResult), args.Error(1)
}

func (m *mockExtractClient) Cancel(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

var remoteHandle = video.UploadHandle{Key: "uploads/abc/clip.mp4", URL: "https://bucket/uploads/abc/clip.mp4"}

func TestRemoteService_Extract(t *testing.T) {
	client := &mockExtractClient{}
	client.On("Submit", mock.Anything, extractsvc.SubmitRequest{
		VideoURL: remoteHandle.URL,
		Mode:     extractsvc.ModeFixedCount,
		Count:    4,
		Format:   "png",
	}).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").
		Return(extractsvc.PollResult{Status: extractsvc.StatusRunning, Progress: 40}, nil).Once()
	client.On("Poll", mock.Anything, "job-1").
		Return(extractsvc.PollResult{
			Status:   extractsvc.StatusCompleted,
			Progress: 100,
			Images: []extractsvc.Image{
				{URL: "https://cdn/b.png", TimestampSeconds: 4.5},
				{URL: "https://cdn/a.png", TimestampSeconds: 1.5},
			},
		}, nil).Once()

	svc := NewRemoteService(client, FixedCount{Count: 4}, WithPollInterval(5*time.Millisecond))

	var reports []int
	shots, err := svc.Extract(context.Background(), remoteHandle, func(p int) { reports = append(reports, p) })
	require.NoError(t, err)
	require.Len(t, shots, 2)
	assert.Equal(t, video.Screenshot{Ordinal: 1, URL: "https://cdn/a.png", TimestampSeconds: 1.5}, shots[0])
	assert.Equal(t, 2, shots[1].Ordinal)
	assert.Equal(t, []int{0, 40, 100}, reports)
	client.AssertExpectations(t)
}

func TestRemoteService_Extract_Failed(t *testing.T) {
	client := &mockExtractClient{}
	client.On("Submit", mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").
		Return(extractsvc.PollResult{Status: extractsvc.StatusFailed, Error: "corrupt input"}, nil)

	svc := NewRemoteService(client, nil, WithPollInterval(5*time.Millisecond))

	_, err := svc.Extract(context.Background(), remoteHandle, nil)
	require.ErrorIs(t, err, ErrRemoteJobFailed)
	assert.Contains(t, err.Error(), "corrupt input")
}

func TestRemoteService_Extract_NoImages(t *testing.T) {
	client := &mockExtractClient{}
	client.On("Submit", mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").
		Return(extractsvc.PollResult{Status: extractsvc.StatusCompleted}, nil)

	svc := NewRemoteService(client, nil, WithPollInterval(5*time.Millisecond))

	_, err := svc.Extract(context.Background(), remoteHandle, nil)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestRemoteService_Extract_CancelsRemoteJob(t *testing.T) {
	client := &mockExtractClient{}
	client.On("Submit", mock.Anything, mock.Anything).Return("job-1", nil)
	client.On("Poll", mock.Anything, "job-1").
		Return(extractsvc.PollResult{Status: extractsvc.StatusRunning}, nil)
	client.On("Cancel", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), "job-1").Return(nil).Once()

	svc := NewRemoteService(client, nil, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := svc.Extract(ctx, remoteHandle, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	client.AssertCalled(t, "Cancel", mock.Anything, "job-1")
}

func TestRemoteService_Extract_Errors(t *testing.T) {
	t.Run("empty handle", func(t *testing.T) {
		svc := NewRemoteService(&mockExtractClient{}, nil)
		_, err := svc.Extract(context.Background(), video.UploadHandle{}, nil)
		assert.ErrorIs(t, err, ErrEmptyHandle)
	})

	t.Run("submit error", func(t *testing.T) {
		client := &mockExtractClient{}
		client.On("Submit", mock.Anything, mock.Anything).Return("", errors.New("unavailable"))
		svc := NewRemoteService(client, nil)
		_, err := svc.Extract(context.Background(), remoteHandle, nil)
		require.Error(t, err)
	})
}

func TestSubmitRequest(t *testing.T) {
	tests := []struct {
		name    string
		sampler Sampler
		want    extractsvc.SubmitRequest
	}{
		{"fixed count", FixedCount{Count: 6}, extractsvc.SubmitRequest{Mode: extractsvc.ModeFixedCount, Count: 6}},
		{"fixed interval", FixedInterval{Every: 3 * time.Second, Max: 9}, extractsvc.SubmitRequest{Mode: extractsvc.ModeFixedInterval, IntervalSeconds: 3, MaxFrames: 9}},
		{"scene change", SceneChange{Threshold: 0.4, Max: 5}, extractsvc.SubmitRequest{Mode: extractsvc.ModeSceneChange, SceneThreshold: 0.4, MaxFrames: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, submitRequest(tt.sampler))
		})
	}
}
