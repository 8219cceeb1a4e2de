package kick

type ChannelsResponse struct {
	Data    []Channel `json:"data"`
	Message string    `json:"message"`
}

type Channel struct {
	BroadcasterUserID int      `json:"broadcaster_user_id"`
	Slug              string   `json:"slug"`
	StreamTitle       string   `json:"stream_title"`
	Category          Category `json:"category"`
	Stream            Stream   `json:"stream"`
}

type Category struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail"`
}

type Stream struct {
	IsLive      bool   `json:"is_live"`
	ViewerCount int    `json:"viewer_count"`
	StartTime   string `json:"start_time"`
	Thumbnail   string `json:"thumbnail"`
}
