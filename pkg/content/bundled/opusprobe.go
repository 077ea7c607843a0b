package bundled

import (
	"fmt"
	"io"
	"os"
	"time"

	opus "gopkg.in/hraban/opus.v2"
)

// opusSampleRate is fixed: Ogg/Opus always decodes at 48kHz.
const opusSampleRate = 48000

// ProbeOpusDuration decodes an Ogg/Opus file to measure its playback
// duration for the descriptor's duration hint.
func ProbeOpusDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	stream, err := opus.NewStream(f)
	if err != nil {
		return 0, fmt.Errorf("bundled: open opus stream: %w", err)
	}
	defer stream.Close()

	pcm := make([]int16, 11520) // 120ms at 48kHz stereo, the largest opus frame
	var samples int64
	for {
		n, err := stream.Read(pcm)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("bundled: decode opus: %w", err)
		}
		samples += int64(n)
	}
	return time.Duration(samples) * time.Second / opusSampleRate, nil
}
