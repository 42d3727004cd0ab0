package orchestrator

import (
	"time"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// ReportKind classifies a status report.
type ReportKind string

const (
	ReportInfo               ReportKind = "info"
	ReportDeviceError        ReportKind = "device_error"
	ReportCaptureError       ReportKind = "capture_error"
	ReportTranscriptionError ReportKind = "transcription_error"
	ReportLoadError          ReportKind = "load_error"
	ReportVADDegraded        ReportKind = "vad_degraded"
	ReportError              ReportKind = "error"
)

// Report is one fire-and-forget diagnostic message.
type Report struct {
	Kind      ReportKind `json:"kind"`
	Message   string     `json:"message"`
	Code      string     `json:"code,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Time      time.Time  `json:"time"`
}

func kindOf(err error) ReportKind {
	switch apperrors.CodeOf(err) {
	case apperrors.DeviceUnavailable:
		return ReportDeviceError
	case apperrors.CaptureFailed:
		return ReportCaptureError
	case apperrors.TranscriptionFailed:
		return ReportTranscriptionError
	case apperrors.ModelLoadFailed:
		return ReportLoadError
	case apperrors.VADFailed:
		return ReportVADDegraded
	default:
		return ReportError
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	Listening    bool    `json:"listening"`
	SessionID    string  `json:"session_id,omitempty"`
	Device       string  `json:"device,omitempty"`
	EngineLoaded bool    `json:"engine_loaded"`
	Model        string  `json:"model,omitempty"`
	Chunks       int     `json:"chunks"`
	LastReport   *Report `json:"last_report,omitempty"`
}

// EventType discriminates Event payloads.
type EventType string

const (
	EventTranscript EventType = "transcript"
	EventStatus     EventType = "status"
)

// Event is pushed to UI consumers.
type Event struct {
	Type   EventType `json:"type"`
	Chunk  string    `json:"chunk,omitempty"`
	Full   string    `json:"full,omitempty"`
	Report *Report   `json:"report,omitempty"`
}
