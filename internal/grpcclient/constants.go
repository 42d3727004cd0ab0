package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// LoadModel can take a while on a cold server.
	LoadTimeout = 2 * time.Minute
)

// Inference service methods. Payloads are google.protobuf.Struct.
const (
	methodLoadModel    = "/scribe.inference.v1.Transcription/LoadModel"
	methodTranscribe   = "/scribe.inference.v1.Transcription/Transcribe"
	methodDetectSpeech = "/scribe.inference.v1.VAD/DetectSpeechSpans"
)
