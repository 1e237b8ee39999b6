package store

import (
	"time"

	"road-data-service/internal/model"
)

// ProcessedAgentData is the stored, flattened projection of a reading. The id
// is assigned by the database and is the only field a client cannot set.
type ProcessedAgentData struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoadState string    `json:"road_state" gorm:"not null"`
	UserID    int64     `json:"user_id" gorm:"index;not null"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func (ProcessedAgentData) TableName() string { return "processed_agent_data" }

// NewRecord flattens a validated reading into a row. The caller must have run
// Validate first; the pointer fields are dereferenced without nil checks.
func NewRecord(d *model.ProcessedAgentData) *ProcessedAgentData {
	return &ProcessedAgentData{
		RoadState: d.RoadState,
		UserID:    *d.AgentData.UserID,
		X:         *d.AgentData.Accelerometer.X,
		Y:         *d.AgentData.Accelerometer.Y,
		Z:         *d.AgentData.Accelerometer.Z,
		Latitude:  *d.AgentData.GPS.Latitude,
		Longitude: *d.AgentData.GPS.Longitude,
		Timestamp: d.AgentData.Timestamp.UTC(),
	}
}
