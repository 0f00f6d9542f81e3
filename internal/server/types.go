// Package server provides the HTTP server for the screenshot API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"fmt"
	"time"

	"github.com/maauso/screenshot-api/internal/pipeline"
	"github.com/maauso/screenshot-api/internal/session"
)

// sessionPath carries the session ID path parameter.
type sessionPath struct {
	ID string `validate:"required,session_id"`
}

// screenshotPath carries the path parameters of a screenshot download.
type screenshotPath struct {
	ID      string `validate:"required,session_id"`
	Ordinal int    `validate:"required,min=1"`
}

// fileUpload describes the multipart file part of a selection.
type fileUpload struct {
	// Name is the client-side file name.
	Name string `validate:"required,max=255"`
	// MIMEType is the declared or derived media type; it may be empty.
	MIMEType string `validate:"omitempty,max=255"`
}

// SessionResponse is the HTTP representation of a session's pipeline state.
type SessionResponse struct {
	// ID is the session identifier.
	ID string `json:"id"`
	// Phase is the current pipeline phase.
	Phase string `json:"phase"`
	// Progress is the percentage of the active stage (0-100).
	Progress int `json:"progress"`
	// File describes the selected file, if any.
	File *FileInfo `json:"file,omitempty"`
	// Screenshots are present only when the phase is COMPLETE.
	Screenshots []ScreenshotResponse `json:"screenshots,omitempty"`
	// Error is the user-visible error, if any.
	Error *ErrorDetail `json:"error,omitempty"`
	// MetadataError reports a failed probe without affecting the phase.
	MetadataError *ErrorDetail `json:"metadata_error,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
}

// FileInfo is the file information table shown for a selected video.
type FileInfo struct {
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
	MIMEType  string `json:"mime_type"`
	// Duration, Width, Height and AspectRatio are filled once the probe succeeds.
	Duration    string `json:"duration,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// ScreenshotResponse references one generated screenshot.
type ScreenshotResponse struct {
	Ordinal          int     `json:"ordinal"`
	URL              string  `json:"url"`
	DownloadURL      string  `json:"download_url"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
}

// ErrorDetail is a pipeline error as shown to the user.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Session is the session state, when the error concerns a session.
	Session *SessionResponse `json:"session,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Sessions is the number of live sessions.
	Sessions int `json:"sessions"`
}

// newSessionResponse maps a session and a state snapshot to its DTO.
func newSessionResponse(s *session.Session, st pipeline.State) SessionResponse {
	resp := SessionResponse{
		ID:            s.ID,
		Phase:         string(st.Phase),
		Progress:      st.Progress,
		Error:         newErrorDetail(st.Error),
		MetadataError: newErrorDetail(st.MetadataError),
		CreatedAt:     s.CreatedAt,
	}

	if st.Source != nil {
		info := &FileInfo{
			Name:      st.Source.Name,
			Extension: st.Source.Extension(),
			Size:      st.Source.HumanSize(),
			SizeBytes: st.Source.Size,
			MIMEType:  st.Source.MIMEType,
		}
		if md := st.Metadata; md != nil {
			info.Duration = md.FormatDuration()
			info.Width = md.Width
			info.Height = md.Height
			info.AspectRatio = md.AspectRatio.String()
		}
		resp.File = info
	}

	for _, shot := range st.Screenshots {
		resp.Screenshots = append(resp.Screenshots, ScreenshotResponse{
			Ordinal:          shot.Ordinal,
			URL:              shot.URL,
			DownloadURL:      fmt.Sprintf("/sessions/%s/screenshots/%d", s.ID, shot.Ordinal),
			TimestampSeconds: shot.TimestampSeconds,
		})
	}
	return resp
}

func newErrorDetail(info *pipeline.ErrorInfo) *ErrorDetail {
	if info == nil {
		return nil
	}
	return &ErrorDetail{Kind: string(info.Kind), Message: info.Message}
}
