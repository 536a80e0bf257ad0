package domain

import "time"

// DestinationMapping routes every notification for a username to one
// Primary-platform channel. SecondaryTopicID is a cache of the Secondary
// platform's topic for the same username; the platform stays authoritative.
type DestinationMapping struct {
	Username             string    `json:"username"`
	DestinationChannelID string    `json:"destination_channel_id"`
	AudienceTagID        *string   `json:"audience_tag_id,omitempty"`
	SecondaryTopicID     *string   `json:"secondary_topic_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// UpsertMappingRequest is the inbound payload of the mapping admin endpoint.
type UpsertMappingRequest struct {
	DestinationChannelID string  `json:"destination_channel_id"`
	AudienceTagID        *string `json:"audience_tag_id,omitempty"`
}

func (r *UpsertMappingRequest) Validate() error {
	if r.DestinationChannelID == "" {
		return ErrInvalidDestination
	}
	return nil
}
