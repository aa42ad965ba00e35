package models

// MediaType identifies the kind of source a scene references
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeText  MediaType = "text"
)

// TransitionType names the effect applied when entering a scene
type TransitionType string

const (
	TransitionNone       TransitionType = "none"
	TransitionFade       TransitionType = "fade"
	TransitionCrossfade  TransitionType = "crossfade"
	TransitionSlideLeft  TransitionType = "slide_left"
	TransitionSlideRight TransitionType = "slide_right"
	TransitionZoomIn     TransitionType = "zoom_in"
	TransitionZoomOut    TransitionType = "zoom_out"
)

// Overlay is an element rendered on top of a scene.
// X/Y are normalized to the frame: (0,0) top-left, (1,1) bottom-right.
type Overlay struct {
	ResourceID string  `json:"resource_id,omitempty"` // Image overlay source
	Text       string  `json:"text,omitempty"`        // Text overlay content
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Opacity    float64 `json:"opacity,omitempty"` // 0-1, 0 means default (opaque)
}

// Scene is one ordered segment of the composition
type Scene struct {
	Name       string         `json:"name,omitempty"`
	SourceID   string         `json:"source_id"` // Referenced media resource
	MediaType  MediaType      `json:"media_type"`
	Duration   float64        `json:"duration"` // Seconds, must be > 0
	Transition TransitionType `json:"transition,omitempty"`
	Overlays   []Overlay      `json:"overlays,omitempty"`
}

// AudioSettings configures the background track mixed under all scenes
type AudioSettings struct {
	TrackID string  `json:"track_id"`
	Volume  float64 `json:"volume"` // 0-1
}

// VideoSettings configures the output encode
type VideoSettings struct {
	Resolution string `json:"resolution"` // e.g. "1920x1080", must match the allow-list
	FPS        int    `json:"fps"`
	Quality    string `json:"quality,omitempty"` // low, medium, high, ultra
	Format     string `json:"format,omitempty"`  // mp4, webm, mov
}

// CompositionRequest is the declarative description of one render.
// Scene order is significant and preserved end to end.
type CompositionRequest struct {
	Scenes     []Scene        `json:"scenes"`
	Audio      *AudioSettings `json:"audio,omitempty"`
	Video      VideoSettings  `json:"video"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

// TotalDuration returns the summed duration of all scenes in seconds
func (r *CompositionRequest) TotalDuration() float64 {
	var total float64
	for _, s := range r.Scenes {
		total += s.Duration
	}
	return total
}
