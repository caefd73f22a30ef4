package models

// TranscriptSegment is one time-bounded span of recognized speech.
// Start and End are seconds from the beginning of the audio.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionInfo describes the audio as a whole.
type TranscriptionInfo struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
}

// TranscriptionResult is the body returned by POST /transcribe.
type TranscriptionResult struct {
	TranscriptionInfo
	Segments []TranscriptSegment `json:"segments"`
}

// StreamSummary is the terminal line of POST /transcribe-stream.
// On success the info fields are set; on failure only Error is.
type StreamSummary struct {
	Done                bool     `json:"done"`
	Language            *string  `json:"language,omitempty"`
	LanguageProbability *float64 `json:"language_probability,omitempty"`
	Duration            *float64 `json:"duration,omitempty"`
	Error               string   `json:"error,omitempty"`
}

// NewStreamSummary builds the success terminal line.
func NewStreamSummary(info TranscriptionInfo) StreamSummary {
	return StreamSummary{
		Done:                true,
		Language:            &info.Language,
		LanguageProbability: &info.LanguageProbability,
		Duration:            &info.Duration,
	}
}

// NewStreamFailure builds the terminal line sent when transcription fails mid-stream.
func NewStreamFailure(err error) StreamSummary {
	return StreamSummary{Done: true, Error: err.Error()}
}
