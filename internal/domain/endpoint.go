package domain

import (
	"time"
)

// Endpoint is a subscriber URL that receives every admitted event.
type Endpoint struct {
	ID                 string    `json:"id"`
	URL                string    `json:"url"`
	Secret             string    `json:"secret,omitempty"`
	IsActive           bool      `json:"is_active"`
	RateLimitPerMinute *int      `json:"rate_limit_per_minute,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type CreateEndpointRequest struct {
	URL                string `json:"url"`
	Secret             string `json:"secret,omitempty"`
	RateLimitPerMinute *int   `json:"rate_limit_per_minute,omitempty"`
}

type UpdateEndpointRequest struct {
	URL                *string `json:"url,omitempty"`
	Secret             *string `json:"secret,omitempty"`
	IsActive           *bool   `json:"is_active,omitempty"`
	RateLimitPerMinute *int    `json:"rate_limit_per_minute,omitempty"`
}
