package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// InboundEvent records one externally delivered trigger
// notification. DeliveryID is globally unique so a repeated
// delivery is detected and ignored.
type InboundEvent struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	DeliveryID  string            `gorm:"type:text;uniqueIndex;not null" json:"delivery_id"`
	EventType   string            `gorm:"type:text;index;not null" json:"event_type"`
	Action      string            `gorm:"type:text" json:"action,omitempty"`
	Repo        string            `gorm:"type:text;not null" json:"repo"`
	Payload     datatypes.JSONMap `gorm:"type:json" json:"payload,omitempty"`
	Processed   bool              `gorm:"not null;default:false" json:"processed"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
	PipelineID  *uuid.UUID        `gorm:"type:uuid;index" json:"pipeline_id,omitempty"`
	Error       string            `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
}

type InboundEvents []*InboundEvent
