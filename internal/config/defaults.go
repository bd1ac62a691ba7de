package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Tools: Tools{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Planning: Planning{
			EpsilonFactor:   0.5,
			ToleranceFactor: 0.5,
		},
		Encode: Encode{
			CRF:          18,
			Preset:       "veryfast",
			AudioCodec:   "aac",
			AudioBitrate: "192k",
		},
		Execution: Execution{
			MaxParallel: 3,
		},
		Cache: Cache{
			Enabled:    true,
			Path:       defaultCachePath(),
			MaxAgeDays: 30,
		},
		Logging: Logging{
			Level:  "info",
			Format: "auto",
		},
	}
}

func defaultCachePath() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "splicecut", "probe.db")
	}
	return "~/.cache/splicecut/probe.db"
}
