package audit

import (
	"time"

	"github.com/google/uuid"
)

// TimelineFilters narrows the decision timeline. A zero UserID means
// all users; a nil Allowed means both outcomes.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	UserID   uuid.UUID
	Code     string
	Module   string
	Allowed  *bool
	Page     int
	PageSize int
}

// TimelineRow is one authorization decision as shown in the timeline.
type TimelineRow struct {
	At         time.Time `json:"at"`
	UserID     uuid.UUID `json:"user_id"`
	Code       string    `json:"code"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason"`
	Resource   string    `json:"resource,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	Action     string    `json:"action,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
}

// PagingInfo carries simple page metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result pairs one timeline page with its paging info.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
