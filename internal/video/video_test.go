package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCD(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{1920, 1080, 120},
		{1080, 1920, 120},
		{1280, 720, 80},
		{7, 0, 7},
		{13, 7, 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GCD(tt.a, tt.b), "GCD(%d, %d)", tt.a, tt.b)
	}
}

func TestReduceAspectRatio(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		want    AspectRatio
		wantErr bool
	}{
		{"full hd", 1920, 1080, AspectRatio{16, 9}, false},
		{"classic", 640, 480, AspectRatio{4, 3}, false},
		{"portrait", 1080, 1920, AspectRatio{9, 16}, false},
		{"square", 512, 512, AspectRatio{1, 1}, false},
		{"coprime", 853, 480, AspectRatio{853, 480}, false},
		{"zero width", 0, 1080, AspectRatio{}, true},
		{"zero height", 1920, 0, AspectRatio{}, true},
		{"negative", -4, 3, AspectRatio{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReduceAspectRatio(tt.width, tt.height)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDimensions)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAspectRatio_String(t *testing.T) {
	assert.Equal(t, "16:9", AspectRatio{16, 9}.String())
}

func TestSource_IsVideo(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"video/mp4", true},
		{"video/quicktime", true},
		{"Video/WebM", true},
		{"audio/mpeg", false},
		{"image/png", false},
		{"", false},
		{"application/video", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, Source{MIMEType: tt.mime}.IsVideo())
		})
	}
}

func TestSource_Extension(t *testing.T) {
	assert.Equal(t, "mp4", Source{Name: "clip.mp4"}.Extension())
	assert.Equal(t, "mkv", Source{Name: "my.holiday.mkv"}.Extension())
	assert.Equal(t, "", Source{Name: "noext"}.Extension())
}

func TestSource_HumanSize(t *testing.T) {
	assert.Equal(t, "12 MB", Source{Size: 12_000_000}.HumanSize())
	assert.Equal(t, "0 B", Source{Size: -1}.HumanSize())
}

func TestMetadata_FormatDuration(t *testing.T) {
	assert.Equal(t, "12.50s", Metadata{DurationSeconds: 12.5}.FormatDuration())
}
