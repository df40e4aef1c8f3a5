//go:build windows

package audio

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono microphone capture on Windows.
// Note: -nostdin is NOT used on Windows to allow graceful shutdown via 'q' command.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(CaptureSampleRate),
		"pipe:1",
	}
}
