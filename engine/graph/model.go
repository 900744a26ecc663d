package graph

// Brand is a sponsoring company node.
type Brand struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// Sponsorship is one channel-brand edge, as surfaced to callers.
type Sponsorship struct {
	Channel     string `json:"channel"`
	Brand       string `json:"brand"`
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	PublishedAt string `json:"published_at"`
}
