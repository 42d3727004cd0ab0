package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/lecture-scribe/internal/errors"
)

func TestClassifyDevice(t *testing.T) {
	tests := []struct {
		name     string
		device   string
		expected string
	}{
		{"blackhole", "BlackHole 2ch", "system"},
		{"vb-cable", "VB-Cable", "system"},
		{"loopback", "Loopback Audio", "system"},
		{"monitor", "Monitor of Built-in Audio", "system"},
		{"soundflower", "Soundflower (2ch)", "system"},
		{"stereo mix", "Stereo Mix (Realtek)", "system"},
		{"microphone", "Built-in Microphone", "user"},
		{"mic short", "External Mic", "user"},
		{"input", "Line Input", "user"},
		{"speakers", "External Speakers", ""},
		{"hdmi", "HDMI Output", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyDevice(tt.device); got != tt.expected {
				t.Errorf("classifyDevice(%q) = %q, want %q", tt.device, got, tt.expected)
			}
		})
	}
}

func TestContainsIgnoreCase(t *testing.T) {
	tests := []struct {
		s        string
		substr   string
		expected bool
	}{
		{"BlackHole 2ch", "blackhole", true},
		{"blackhole", "BLACKHOLE", true},
		{"Some BlackHole Device", "blackhole", true},
		{"External Speakers", "blackhole", false},
		{"", "test", false},
		{"test", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.s+"_"+tt.substr, func(t *testing.T) {
			if got := containsIgnoreCase(tt.s, tt.substr); got != tt.expected {
				t.Errorf("containsIgnoreCase(%q, %q) = %v, want %v", tt.s, tt.substr, got, tt.expected)
			}
		})
	}
}

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		id       string
		wantKind Kind
		wantName string
	}{
		{"", KindInput, ""},
		{"default", KindInput, ""},
		{"  Default ", KindInput, ""},
		{"loopback", KindLoopback, ""},
		{"System", KindLoopback, ""},
		{"Loopback Audio 2", KindLoopback, "Loopback Audio 2"},
		{"file:/tmp/lecture.wav", KindFile, "/tmp/lecture.wav"},
		{"USB Microphone", KindInput, "USB Microphone"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			kind, name := parseIdentifier(tt.id)
			if kind != tt.wantKind || name != tt.wantName {
				t.Errorf("parseIdentifier(%q) = (%v, %q), want (%v, %q)", tt.id, kind, name, tt.wantKind, tt.wantName)
			}
		})
	}
}

func testDevices() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "HDMI Output", MaxInputChannels: 0},
		{Name: "Built-in Microphone", MaxInputChannels: 1},
		{Name: "USB Mic Pro", MaxInputChannels: 2},
		{Name: "BlackHole 2ch", MaxInputChannels: 2},
	}
}

func TestSelectDevice(t *testing.T) {
	devs := testDevices()

	tests := []struct {
		name string
		kind Kind
		id   string
		want string
	}{
		{"exact", KindInput, "built-in microphone", "Built-in Microphone"},
		{"partial", KindInput, "usb", "USB Mic Pro"},
		{"loopback default", KindLoopback, "", "BlackHole 2ch"},
		{"output only", KindInput, "HDMI", ""},
		{"missing", KindInput, "Focusrite", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectDevice(devs, tt.kind, tt.id)
			name := ""
			if got != nil {
				name = got.Name
			}
			if name != tt.want {
				t.Errorf("selectDevice(%v, %q) = %q, want %q", tt.kind, tt.id, name, tt.want)
			}
		})
	}
}

func TestDeviceNames(t *testing.T) {
	names := deviceNames(testDevices())
	want := []string{"Built-in Microphone", "USB Mic Pro", "BlackHole 2ch", LoopbackDevice}
	if len(names) != len(want) {
		t.Fatalf("deviceNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestDownmix(t *testing.T) {
	out := downmix([]float32{0.2, 0.4, -1, 1}, 2)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if math.Abs(float64(out[0]-0.3)) > 1e-6 || out[1] != 0 {
		t.Errorf("downmix = %v, want [0.3 0]", out)
	}

	in := []float32{1, 2}
	mono := downmix(in, 1)
	in[0] = 9
	if mono[0] != 1 {
		t.Error("mono downmix must copy the buffer")
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(2)
	if !q.Push(Frame{Seq: 0}) || !q.Push(Frame{Seq: 1}) {
		t.Fatal("pushes within capacity should succeed")
	}
	if q.Push(Frame{Seq: 2}) {
		t.Error("push beyond capacity should be dropped")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}

	f := <-q.C()
	if f.Seq != 0 {
		t.Errorf("first frame seq = %d, want 0 (FIFO)", f.Seq)
	}
}

func TestQueueCloseIsSentinel(t *testing.T) {
	q := NewQueue(4)
	q.Push(Frame{Seq: 7})
	q.Close()
	q.Close()

	if q.Push(Frame{Seq: 8}) {
		t.Error("push after Close should be dropped")
	}

	f, ok := <-q.C()
	if !ok || f.Seq != 7 {
		t.Fatalf("buffered frame lost: %v %v", f, ok)
	}
	if _, ok := <-q.C(); ok {
		t.Error("expected sentinel after drain")
	}
}

func writeTestWAV(t *testing.T, samples []float32, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteWAV(f, samples, rate); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVRoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	path := writeTestWAV(t, in, 16000)

	out, err := ReadWAV(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Errorf("sample %d = %f, want %f", i, out[i], in[i])
		}
	}

	if _, err := ReadWAV(path, 48000); !apperrors.IsCode(err, apperrors.DeviceUnavailable) {
		t.Errorf("rate mismatch error = %v, want DEVICE_UNAVAILABLE", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open("file:"+filepath.Join(t.TempDir(), "nope.wav"), Options{})
	if !apperrors.IsCode(err, apperrors.DeviceUnavailable) {
		t.Errorf("Open error = %v, want DEVICE_UNAVAILABLE", err)
	}
}

func TestWAVSourceReplay(t *testing.T) {
	samples := make([]float32, 1000)
	path := writeTestWAV(t, samples, 16000)

	src, err := Open("file:"+path, Options{SampleRate: 16000, FrameSamples: 160, Unpaced: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if src.Kind() != KindFile {
		t.Errorf("Kind() = %v, want file", src.Kind())
	}

	q := NewQueue(16)
	if err := src.Start(context.Background(), q); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []Frame
	timeout := time.After(2 * time.Second)
	for len(got) < 7 {
		select {
		case f := <-q.C():
			got = append(got, f)
		case <-timeout:
			t.Fatalf("received %d frames, want 7", len(got))
		}
	}

	for i, f := range got {
		if f.Seq != uint64(i) {
			t.Errorf("frame %d has seq %d", i, f.Seq)
		}
	}
	if n := len(got[6].Samples); n != 40 {
		t.Errorf("last frame has %d samples, want 40", n)
	}

	if err := src.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestWAVSourceNoPushAfterStop(t *testing.T) {
	samples := make([]float32, 16000)
	path := writeTestWAV(t, samples, 16000)

	src, err := Open("file:"+path, Options{SampleRate: 16000, FrameSamples: 160, Unpaced: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	q := NewQueue(1)
	if err := src.Start(context.Background(), q); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-q.C()
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	for len(q.C()) > 0 {
		<-q.C()
	}

	time.Sleep(20 * time.Millisecond)
	if q.Len() != 0 {
		t.Errorf("frame pushed after Stop returned")
	}
}
