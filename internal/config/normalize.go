package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables that override the file.
const (
	EnvFFmpeg    = "SPLICECUT_FFMPEG"
	EnvFFprobe   = "SPLICECUT_FFPROBE"
	EnvLogLevel  = "SPLICECUT_LOG_LEVEL"
	EnvLogFormat = "SPLICECUT_LOG_FORMAT"
	EnvCachePath = "SPLICECUT_CACHE_PATH"
)

func (c *Config) normalize() error {
	c.applyEnv()
	c.normalizeTools()
	c.normalizeEncode()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&c.Tools.FFmpeg, EnvFFmpeg)
	override(&c.Tools.FFprobe, EnvFFprobe)
	override(&c.Logging.Level, EnvLogLevel)
	override(&c.Logging.Format, EnvLogFormat)
	override(&c.Cache.Path, EnvCachePath)
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = "ffmpeg"
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = "ffprobe"
	}
}

func (c *Config) normalizeEncode() {
	c.Encode.VideoCodec = strings.TrimSpace(c.Encode.VideoCodec)
	c.Encode.Preset = strings.ToLower(strings.TrimSpace(c.Encode.Preset))
	c.Encode.AudioCodec = strings.TrimSpace(c.Encode.AudioCodec)
	c.Encode.AudioBitrate = strings.TrimSpace(c.Encode.AudioBitrate)
}

func (c *Config) normalizeCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath()
	}
	var err error
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "auto"
	}
}
