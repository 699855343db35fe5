package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// IsValidVideoID reports whether id looks like a YouTube video id.
func IsValidVideoID(id string) bool {
	return videoIDPattern.MatchString(id)
}

// ExtractVideoID accepts a bare video id or a YouTube URL (watch, youtu.be,
// shorts, embed, live) and returns the video id.
func ExtractVideoID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if IsValidVideoID(input) {
		return input, nil
	}

	raw := input
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid video reference %q", input)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var candidate string
	switch host {
	case "youtu.be":
		candidate = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			candidate = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "shorts" || parts[0] == "embed" || parts[0] == "live" || parts[0] == "v") {
			candidate = parts[1]
		}
	}

	if !IsValidVideoID(candidate) {
		return "", fmt.Errorf("invalid video reference %q", input)
	}
	return candidate, nil
}
