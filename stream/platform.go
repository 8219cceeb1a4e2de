package stream

import (
	"strings"
)

type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformKick    Platform = "kick"
)

var Platforms = []Platform{PlatformTwitch, PlatformYouTube, PlatformKick}

func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", ErrInvalidPlatform
	}

	return p, nil
}

func (p Platform) IsValid() bool {
	switch p {
	case PlatformTwitch, PlatformYouTube, PlatformKick:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}
