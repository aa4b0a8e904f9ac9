package dto

import (
	"time"

	"basegraph.app/parley/internal/conversation"
)

type ConversationResponse struct {
	ChannelID      string     `json:"channel_id"`
	Active         bool       `json:"active"`
	FollowUpCount  int        `json:"follow_up_count"`
	FollowUpsLeft  int        `json:"follow_ups_left"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ActivatedAt    time.Time  `json:"activated_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func ToConversationResponse(st conversation.State, maxFollowUps int) ConversationResponse {
	resp := ConversationResponse{
		ChannelID:      st.ChannelID,
		Active:         st.Active,
		FollowUpCount:  st.FollowUpCount,
		LastActivityAt: st.LastActivityAt,
		ActivatedAt:    st.ActivatedAt,
	}
	if st.Active {
		resp.FollowUpsLeft = max(maxFollowUps-st.FollowUpCount, 0)
		expires := st.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}
