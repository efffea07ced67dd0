// Package videometa derives a best-guess title, platform and timing snapshot
// for a tracked video from its page context.
package videometa

import (
	"log"
	"math"
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelsync/models"
)

// Media exposes the numeric playback properties of a media element.
type Media interface {
	CurrentTime() float64
	Duration() float64
}

// Document exposes the page context a media element lives in.
type Document interface {
	Title() string
	Heading() string // text of the page's primary heading, empty if none
	URL() string
}

// platformHosts is matched in order; the first hit wins. A needle starting
// with "." is a domain: it matches that host or any of its subdomains only.
var platformHosts = []struct {
	needle   string
	platform models.Platform
}{
	{"youtube.", models.PlatformYouTube},
	{"youtu.be", models.PlatformYouTube},
	{"netflix.", models.PlatformNetflix},
	{"primevideo.", models.PlatformPrimeVideo},
	{"disneyplus.", models.PlatformDisneyPlus},
	{"hulu.", models.PlatformHulu},
	{"hbomax.", models.PlatformMax},
	{".max.com", models.PlatformMax},
	{"twitch.", models.PlatformTwitch},
	{"vimeo.", models.PlatformVimeo},
	{"dailymotion.", models.PlatformDailymotion},
	{"crunchyroll.", models.PlatformCrunchyroll},
	{"plex.", models.PlatformPlex},
	{"jellyfin", models.PlatformJellyfin},
}

// KnownPlatforms lists every platform DetectPlatform can return besides generic.
func KnownPlatforms() []models.Platform {
	seen := make(map[models.Platform]bool)
	out := make([]models.Platform, 0, len(platformHosts))
	for _, p := range platformHosts {
		if !seen[p.platform] {
			seen[p.platform] = true
			out = append(out, p.platform)
		}
	}
	return out
}

// DetectPlatform maps a hostname onto a known platform, defaulting to generic.
func DetectPlatform(hostname string) models.Platform {
	host := strings.ToLower(strings.TrimSpace(hostname))
	if host == "" {
		return models.PlatformGeneric
	}
	for _, p := range platformHosts {
		if strings.HasPrefix(p.needle, ".") {
			if strings.HasSuffix("."+host, p.needle) {
				return p.platform
			}
			continue
		}
		if strings.Contains(host, p.needle) {
			return p.platform
		}
	}
	return models.PlatformGeneric
}

var labelCaser = cases.Title(language.English)

// PlatformLabel renders a platform for humans ("youtube" -> "Youtube").
func PlatformLabel(p models.Platform) string {
	if p == "" {
		p = models.PlatformGeneric
	}
	return labelCaser.String(string(p))
}

// Extract builds an immutable metadata snapshot. It never fails: unreadable
// fields fall back to the document title, the generic platform and zero times.
func Extract(media Media, doc Document) (meta models.VideoMetadata) {
	meta = models.VideoMetadata{Platform: models.PlatformGeneric}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[videometa] extraction failed, using defaults: %v", r)
			if meta.Title == "" {
				meta.Title = safeTitle(doc)
			}
			if meta.Platform == "" {
				meta.Platform = models.PlatformGeneric
			}
		}
	}()

	if doc != nil {
		meta.SourceURL = strings.TrimSpace(doc.URL())
		meta.Platform = DetectPlatform(hostname(meta.SourceURL))

		raw := strings.TrimSpace(doc.Heading())
		if raw == "" {
			raw = strings.TrimSpace(doc.Title())
		}
		if cleaned := CleanTitle(raw); cleaned != "" {
			meta.Title = cleaned
		} else {
			meta.Title = raw
		}
	}

	if media != nil {
		meta.DurationSeconds = wholeSeconds(media.Duration())
		meta.CurrentTimeSeconds = wholeSeconds(media.CurrentTime())
	}
	return meta
}

func safeTitle(doc Document) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Title())
}

func hostname(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func wholeSeconds(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return int(math.Round(v))
}
