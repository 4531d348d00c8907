package pulse

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parseSinkInputs extracts streams from `pactl list sink-inputs` output.
// Each stream is introduced by a "Sink Input #N" header followed by indented
// attribute lines; the volume line reports one percent value per channel and
// the first one is taken (channels are kept balanced by the fades anyway).
func parseSinkInputs(out []byte) ([]Stream, error) {
	var streams []Stream
	var cur *Stream

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if id, ok := strings.CutPrefix(trimmed, "Sink Input #"); ok && !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " ") {
			if cur != nil {
				streams = append(streams, *cur)
			}
			n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid sink-input id %q: %w", id, err)
			}
			cur = &Stream{ID: uint32(n), Volume: -1}
			continue
		}

		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "Mute:"):
			cur.Muted = strings.Contains(trimmed, "yes")

		case strings.HasPrefix(trimmed, "Volume:") && cur.Volume < 0:
			pct, ok := firstPercent(trimmed)
			if !ok {
				return nil, fmt.Errorf("sink-input %d: no percent in volume line %q", cur.ID, trimmed)
			}
			cur.Volume = pct

		case strings.HasPrefix(trimmed, "application.name"):
			if _, val, ok := strings.Cut(trimmed, "="); ok {
				cur.App = strings.Trim(strings.TrimSpace(val), `"`)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if cur != nil {
		streams = append(streams, *cur)
	}

	// Streams whose volume line never appeared are unusable for ducking.
	for i := range streams {
		if streams[i].Volume < 0 {
			streams[i].Volume = 0
		}
	}
	return streams, nil
}

// firstPercent finds the first "N%" token in a volume line.
func firstPercent(line string) (int, bool) {
	for _, field := range strings.Fields(line) {
		if !strings.HasSuffix(field, "%") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(field, "%"))
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
