//go:build !linux && !windows

package audio

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono microphone capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(CaptureSampleRate),
		"pipe:1",
	}
}
