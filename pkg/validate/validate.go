package validate

import (
	"fmt"
	"math"
	"net/url"

	"github.com/vidcompose/vidcompose/pkg/files"
	"github.com/vidcompose/vidcompose/pkg/models"
)

// AllowedResolutions is the output resolution allow-list
var AllowedResolutions = map[string]bool{
	"640x360":   true,
	"854x480":   true,
	"1280x720":  true,
	"1920x1080": true,
	"2560x1440": true,
	"3840x2160": true,
}

// ValidationError names the first offending field of a rejected request
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validator checks composition requests before admission.
// Resource existence and ownership are resolved through the file
// collaborator; a resource deleted after validation is a render-time
// failure, not a validator bug.
type Validator struct {
	checker files.Checker
}

// NewValidator creates a validator backed by the given resource checker
func NewValidator(checker files.Checker) *Validator {
	return &Validator{checker: checker}
}

// Validate checks a request for the given identity, short-circuiting on
// the first failure. Checks run in a fixed order: scene presence, scene
// durations, resource ownership, overlay coordinates, resolution
// allow-list, webhook URL shape.
func (v *Validator) Validate(request *models.CompositionRequest, identity string) *ValidationError {
	if request == nil || len(request.Scenes) == 0 {
		return newError("scenes", "at least one scene is required")
	}

	for i, scene := range request.Scenes {
		if scene.Duration <= 0 || math.IsInf(scene.Duration, 0) || math.IsNaN(scene.Duration) {
			return newError(fmt.Sprintf("scenes[%d].duration", i),
				"duration must be a positive finite number, got %v", scene.Duration)
		}
	}

	for i, scene := range request.Scenes {
		if scene.SourceID == "" {
			return newError(fmt.Sprintf("scenes[%d].source_id", i), "source reference is required")
		}
		if !v.checker.Exists(scene.SourceID, identity) {
			return newError(fmt.Sprintf("scenes[%d].source_id", i),
				"resource %q does not exist or is not owned by caller", scene.SourceID)
		}
		for j, overlay := range scene.Overlays {
			if overlay.ResourceID != "" && !v.checker.Exists(overlay.ResourceID, identity) {
				return newError(fmt.Sprintf("scenes[%d].overlays[%d].resource_id", i, j),
					"resource %q does not exist or is not owned by caller", overlay.ResourceID)
			}
		}
	}
	if request.Audio != nil && request.Audio.TrackID != "" {
		if !v.checker.Exists(request.Audio.TrackID, identity) {
			return newError("audio.track_id",
				"resource %q does not exist or is not owned by caller", request.Audio.TrackID)
		}
	}

	for i, scene := range request.Scenes {
		for j, overlay := range scene.Overlays {
			if overlay.X < 0 || overlay.X > 1 || overlay.Y < 0 || overlay.Y > 1 {
				return newError(fmt.Sprintf("scenes[%d].overlays[%d]", i, j),
					"overlay position (%v, %v) outside [0,1]", overlay.X, overlay.Y)
			}
			if overlay.Opacity < 0 || overlay.Opacity > 1 {
				return newError(fmt.Sprintf("scenes[%d].overlays[%d].opacity", i, j),
					"opacity %v outside [0,1]", overlay.Opacity)
			}
		}
	}
	if request.Audio != nil && (request.Audio.Volume < 0 || request.Audio.Volume > 1) {
		return newError("audio.volume", "volume %v outside [0,1]", request.Audio.Volume)
	}

	if !AllowedResolutions[request.Video.Resolution] {
		return newError("video.resolution", "resolution %q is not allowed", request.Video.Resolution)
	}

	if request.WebhookURL != "" {
		u, err := url.Parse(request.WebhookURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return newError("webhook_url", "must be a well-formed absolute URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return newError("webhook_url", "scheme %q is not supported", u.Scheme)
		}
	}

	return nil
}
