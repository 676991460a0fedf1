package models

import (
	"encoding/json"
	"strings"
)

// UploadEvent announces a new or replaced source image in the asset root.
type UploadEvent struct {
	Filename string `json:"filename"`
	Force    bool   `json:"force"`
}

// ParseUploadEvent decodes a JSON event. Values that are not a JSON object
// are taken as a bare filename.
func ParseUploadEvent(value []byte) UploadEvent {
	var ev UploadEvent
	if err := json.Unmarshal(value, &ev); err == nil && ev.Filename != "" {
		return ev
	}
	return UploadEvent{Filename: strings.TrimSpace(string(value))}
}

// ResultEvent is published once a source has been processed.
type ResultEvent struct {
	PhotoID     string                `json:"photo_id"`
	Filename    string                `json:"filename"`
	Status      string                `json:"status"`
	Error       string                `json:"error,omitempty"`
	Derivatives map[string]Derivative `json:"derivatives,omitempty"`
}
