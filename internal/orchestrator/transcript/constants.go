package transcript

const (
	DefaultHistorySize      = 15
	DefaultContextWordCap   = 70
	DefaultContextKeepWords = 60

	DefaultMinConfidence       = -1.0
	DefaultSimilarityThreshold = 0.7

	saveTimeLayout = "20060102_150405"
)
