package videometa

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	bracketed   = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}|\([^)]*\)`)
	qualityTags = regexp.MustCompile(`(?i)\b(2160p|1440p|1080p|720p|576p|480p|360p|4k|8k|uhd|fhd|hdr10|hdr|dolby\s+vision|hdcam|hdts|telesync|webrip|web-dl|webdl|bluray|blu-ray|brrip|bdrip|dvdrip|dvdscr|hdrip|x264|x265|h\.?264|h\.?265|hevc|aac|10bit)\b`)
	boilerplate = regexp.MustCompile(`(?i)\b(watch\s+online\s+free|watch\s+online|watch\s+free|watch\s+now|free\s+online|online\s+free|full\s+movie|full\s+episode|free\s+streaming|stream\s+online|streaming|with\s+english\s+subtitles|english\s+subtitles|eng\s+sub|in\s+hd|hd\s+quality|hd)\b`)
	siteNames   = regexp.MustCompile(`(?i)\b(fmovies|123\s*movies|putlocker|solar\s*movie|soap2day|gomovies|yesmovies|moviesjoy|lookmovie|hdtoday|flixtor|sflix|myflixer|primewire|youtube|netflix|prime\s+video|disney\s*plus|hulu|twitch|vimeo|dailymotion|crunchyroll)\b`)
	separators  = regexp.MustCompile(`\s+[-–—:]\s+`)
	spaces      = regexp.MustCompile(`\s+`)
)

const trimSet = " \t-–—:|,.·•"

// CleanTitle strips quality tags, pipe suffixes, bracketed annotations and
// streaming-site boilerplate from a raw page title. It may return an empty
// string when nothing meaningful remains.
func CleanTitle(raw string) string {
	s := norm.NFKC.String(raw)

	if i := strings.Index(s, "|"); i >= 0 {
		s = s[:i]
	}
	s = bracketed.ReplaceAllString(s, " ")

	// Drop trailing " - Site" style segments that hold nothing but noise.
	for {
		seps := separators.FindAllStringIndex(s, -1)
		if len(seps) == 0 {
			break
		}
		last := seps[len(seps)-1]
		if scrub(s[last[1]:]) != "" {
			break
		}
		s = s[:last[0]]
	}

	return scrub(s)
}

func scrub(s string) string {
	s = qualityTags.ReplaceAllString(s, " ")
	s = boilerplate.ReplaceAllString(s, " ")
	s = siteNames.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	for {
		trimmed := strings.Trim(s, trimSet)
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return s
}
