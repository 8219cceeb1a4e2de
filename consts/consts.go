package consts

const (
	ColorNone = "000000"

	ColorRed   = "FF0000"
	ColorAmber = "FF9300"
	ColorGreen = "00FF00"

	ColorTwitch  = "6441A4"
	ColorYouTube = "FF0000"
	ColorKick    = "53FC18"
	ColorOffline = "747F8D"
)

// Store key prefixes. Everything the service persists lives under KeyPrefix.
const (
	KeyPrefix             = "livewatch/"
	KeyPrefixStreamer     = KeyPrefix + "streamer/"
	KeyPrefixSession      = KeyPrefix + "session/"
	KeyPrefixSubscription = KeyPrefix + "subscription/"
)
