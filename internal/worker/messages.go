package worker

import (
	"github.com/book-expert/events"

	"github.com/book-expert/component-narrator/internal/ranking"
)

// Identification reply statuses.
const (
	StatusIdentified    = "identified"
	StatusNotRecognized = "not_recognized"
	StatusUnavailable   = "unavailable"
	StatusInvalid       = "invalid"
)

// IdentifyRequest asks for the component shown in the image stored under ImageKey.
// Zero TopN means one result; nil thresholds use the service policy.
type IdentifyRequest struct {
	Header        events.EventHeader `json:"header"`
	ImageKey      string             `json:"image_key"`
	TopN          int                `json:"top_n,omitempty"`
	MinConfidence *float64           `json:"min_confidence,omitempty"`
	MinMargin     *float64           `json:"min_margin,omitempty"`
}

// IdentifyReply is the answer to an IdentifyRequest. NearMisses is set only when
// Status is StatusNotRecognized.
type IdentifyReply struct {
	Header     events.EventHeader `json:"header"`
	Status     string             `json:"status"`
	Matches    []ranking.Match    `json:"matches,omitempty"`
	NearMisses []ranking.Match    `json:"near_misses,omitempty"`
	Error      string             `json:"error,omitempty"`
}
