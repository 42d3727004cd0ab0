// Package grpcclient provides a client for the remote inference server.
// It backs both the transcription engine and the speech detector when
// STT_MODE or VAD_MODE is "grpc".
package grpcclient

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
	"github.com/GriffinCanCode/lecture-scribe/internal/resilience"
	"github.com/GriffinCanCode/lecture-scribe/internal/stt"
	"github.com/GriffinCanCode/lecture-scribe/internal/trace"
	"github.com/GriffinCanCode/lecture-scribe/internal/vad"
)

// Client talks to the inference server. It satisfies stt.Engine and
// vad.Detector.
type Client struct {
	conn  *grpc.ClientConn
	retry resilience.RetryConfig
}

// Dial creates a client for addr. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Unavailable, "dial inference server %s", addr)
	}
	return &Client{conn: conn, retry: resilience.RemoteRetryConfig()}, nil
}

// Loader returns a LoadFunc that dials addr and asks the server to load
// the referenced model.
func Loader(addr string, opts ...grpc.DialOption) stt.LoadFunc {
	return func(ctx context.Context, ref stt.ModelRef) (stt.Engine, error) {
		c, err := Dial(addr, opts...)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ModelLoadFailed, "connect inference server")
		}
		if err := c.LoadModel(ctx, ref); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// LoadModel asks the server to load ref.
func (c *Client) LoadModel(ctx context.Context, ref stt.ModelRef) error {
	ctx, cancel := context.WithTimeout(ctx, LoadTimeout)
	defer cancel()

	req, err := structpb.NewStruct(map[string]any{
		"model":        ref.Model,
		"device":       ref.Device,
		"compute_type": ref.ComputeType,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode load request")
	}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, methodLoadModel, req, resp); err != nil {
		return apperrors.Wrapf(err, apperrors.ModelLoadFailed, "load model %q", ref.Model)
	}
	return nil
}

// Transcribe sends one window for transcription.
func (c *Client) Transcribe(ctx context.Context, samples []float32, prompt string, p stt.Params) ([]stt.Segment, error) {
	fields := map[string]any{
		"audio":               encodePCM16(samples),
		"sample_rate":         float64(p.SampleRate),
		"language":            p.Language,
		"beam_size":           float64(p.BeamSize),
		"temperature":         p.Temperature,
		"no_speech_threshold": p.NoSpeechThreshold,
		"vad_min_silence_ms":  float64(p.VADMinSilenceMs),
		"patience":            p.Patience,
		"length_penalty":      p.LengthPenalty,
	}
	if p.ConditionOnPrompt && prompt != "" {
		fields["initial_prompt"] = prompt
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode transcribe request")
	}

	resp := new(structpb.Struct)
	if err := c.invoke(ctx, methodTranscribe, req, resp); err != nil {
		return nil, apperrors.FromGRPCError(err, apperrors.TranscriptionFailed)
	}
	return decodeSegments(resp)
}

// DetectSpeechSpans asks the server's VAD for speech regions.
func (c *Client) DetectSpeechSpans(ctx context.Context, samples []float32, opts vad.Options) ([]vad.Span, error) {
	req, err := structpb.NewStruct(map[string]any{
		"audio":          encodePCM16(samples),
		"sample_rate":    float64(opts.SampleRate),
		"threshold":      opts.Threshold,
		"min_silence_ms": float64(opts.MinSilenceMs),
		"min_speech_ms":  float64(opts.MinSpeechMs),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Internal, "encode vad request")
	}

	resp := new(structpb.Struct)
	if err := c.invoke(ctx, methodDetectSpeech, req, resp); err != nil {
		return nil, apperrors.FromGRPCError(err, apperrors.VADFailed)
	}
	return decodeSpans(resp, len(samples))
}

func (c *Client) invoke(ctx context.Context, method string, req, resp *structpb.Struct) error {
	return resilience.Retry(ctx, c.retry, func() error {
		return c.conn.Invoke(ctx, method, req, resp)
	})
}

// encodePCM16 packs samples as little-endian 16-bit PCM, base64 encoded.
func encodePCM16(samples []float32) string {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v*math.MaxInt16)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeSegments(resp *structpb.Struct) ([]stt.Segment, error) {
	list := resp.GetFields()["segments"].GetListValue()
	if list == nil {
		return nil, nil
	}
	segs := make([]stt.Segment, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, apperrors.New(apperrors.TranscriptionFailed, "malformed segment in response")
		}
		f := s.GetFields()
		segs = append(segs, stt.Segment{
			Text:       f["text"].GetStringValue(),
			AvgLogProb: f["avg_logprob"].GetNumberValue(),
		})
	}
	return segs, nil
}

func decodeSpans(resp *structpb.Struct, n int) ([]vad.Span, error) {
	list := resp.GetFields()["spans"].GetListValue()
	var spans []vad.Span
	for _, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, apperrors.New(apperrors.VADFailed, "malformed span in response")
		}
		start := int(s.GetFields()["start"].GetNumberValue())
		end := int(s.GetFields()["end"].GetNumberValue())
		if start < 0 || end > n || start >= end {
			return nil, apperrors.Newf(apperrors.VADFailed, "span [%d,%d) outside window of %d samples", start, end, n)
		}
		spans = append(spans, vad.Span{Start: start, End: end})
	}
	return spans, nil
}
