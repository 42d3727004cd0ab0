package audio

// Device identifiers understood by Open.
const (
	DefaultDevice  = "default"
	LoopbackDevice = "loopback"
	SystemDevice   = "system"
	filePrefix     = "file:"
)

var (
	systemKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix"}
	micKeywords    = []string{"microphone", "input", "mic", "built-in"}
)
