// Package audio turns capture devices into a stream of fixed-size mono frames.
package audio

import (
	"context"
	"strings"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

// Kind identifies what a Source reads from.
type Kind int

const (
	KindInput Kind = iota
	KindLoopback
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindLoopback:
		return "loopback"
	case KindFile:
		return "file"
	default:
		return "input"
	}
}

// Source produces frames into a queue while active.
type Source interface {
	// Start begins delivering frames to q. It returns once capture is running.
	Start(ctx context.Context, q *Queue) error
	// Stop halts capture. After Stop returns no further frame is pushed.
	Stop() error
	Name() string
	Kind() Kind
}

// Options configures a Source.
type Options struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	// OnError receives mid-stream capture faults. The capture loop exits after reporting.
	OnError func(error)
	// Unpaced makes file sources deliver frames as fast as the queue accepts them.
	Unpaced bool
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.FrameSamples <= 0 {
		o.FrameSamples = o.SampleRate / 10
	}
	return o
}

func (o Options) reportError(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// Open resolves a device identifier to a Source. Identifier handling lives
// here and nowhere else: "" or "default" is the default input, "loopback"
// or "system" (or any name containing "loopback") is a system-audio device,
// "file:<path>" replays a WAV file, and anything else names an input device.
func Open(identifier string, opts Options) (Source, error) {
	opts = opts.withDefaults()
	kind, name := parseIdentifier(identifier)

	if kind == KindFile {
		return openWAV(name, opts)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "initialize audio subsystem")
	}
	dev, err := resolveDevice(kind, name)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	return newStreamSource(dev, kind, opts), nil
}

// ListDevices returns the names of usable input devices, followed by the
// loopback pseudo-device when a system-audio device is present.
func ListDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "initialize audio subsystem")
	}
	defer func() { _ = portaudio.Terminate() }()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "enumerate devices")
	}
	return deviceNames(devs), nil
}

func deviceNames(devs []*portaudio.DeviceInfo) []string {
	var names []string
	hasLoopback := false
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		names = append(names, d.Name)
		if classifyDevice(d.Name) == "system" {
			hasLoopback = true
		}
	}
	if hasLoopback {
		names = append(names, LoopbackDevice)
	}
	return names
}

func parseIdentifier(id string) (Kind, string) {
	trimmed := strings.TrimSpace(id)
	switch {
	case strings.HasPrefix(trimmed, filePrefix):
		return KindFile, strings.TrimPrefix(trimmed, filePrefix)
	case trimmed == "" || strings.EqualFold(trimmed, DefaultDevice):
		return KindInput, ""
	case strings.EqualFold(trimmed, SystemDevice) || containsIgnoreCase(trimmed, LoopbackDevice):
		if strings.EqualFold(trimmed, SystemDevice) || strings.EqualFold(trimmed, LoopbackDevice) {
			return KindLoopback, ""
		}
		return KindLoopback, trimmed
	default:
		return KindInput, trimmed
	}
}

func resolveDevice(kind Kind, name string) (*portaudio.DeviceInfo, error) {
	if kind == KindInput && name == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "no default input device")
		}
		return dev, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DeviceUnavailable, "enumerate devices")
	}
	if dev := selectDevice(devs, kind, name); dev != nil {
		return dev, nil
	}
	return nil, apperrors.Newf(apperrors.DeviceUnavailable, "device not found: %q", name).
		WithMetadata("kind", kind.String())
}

// selectDevice picks the device matching name among inputs. A loopback
// request without a name takes the first system-audio device.
func selectDevice(devs []*portaudio.DeviceInfo, kind Kind, name string) *portaudio.DeviceInfo {
	var partial *portaudio.DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		if kind == KindLoopback && name == "" {
			if classifyDevice(d.Name) == "system" {
				return d
			}
			continue
		}
		if strings.EqualFold(d.Name, name) {
			return d
		}
		if partial == nil && containsIgnoreCase(d.Name, name) {
			partial = d
		}
	}
	return partial
}

func classifyDevice(name string) string {
	for _, kw := range systemKeywords {
		if containsIgnoreCase(name, kw) {
			return "system"
		}
	}
	for _, kw := range micKeywords {
		if containsIgnoreCase(name, kw) {
			return "user"
		}
	}
	return ""
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
