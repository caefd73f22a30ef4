package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SampleRate is the rate whisper models are trained on.
const SampleRate = 16000

// ConvertToPCMWAV converts any input ffmpeg understands into a 16 kHz mono
// signed 16-bit PCM WAV file at outputFile, overwriting it if it exists.
func ConvertToPCMWAV(ctx context.Context, ffmpegPath, inputFile, outputFile string) error {
	// ffmpeg -nostdin -y -i <inputFile> -ar 16000 -ac 1 -c:a pcm_s16le <outputFile>
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y", // Overwrite output file if it exists
		"-i", inputFile,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		outputFile,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
