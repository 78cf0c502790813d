package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

// StageDueMessage announces that a growth stage notification has come due.
type StageDueMessage struct {
	NotificationID string    `json:"notificationId"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	ThrowID        string    `json:"throwId"`
	StageID        string    `json:"stageId"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ScheduledFor   time.Time `json:"scheduledFor"`
}

func NewStageDueMessage(n domain.Notification) StageDueMessage {
	return StageDueMessage{
		NotificationID: n.ID,
		ThrowID:        n.RecordID,
		StageID:        n.StageID,
		Title:          n.Title,
		Body:           n.Body,
		ScheduledFor:   n.ScheduledFor,
	}
}

func (m StageDueMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.ThrowID) == "" {
		return fmt.Errorf("throwId is required")
	}
	if strings.TrimSpace(m.StageID) == "" {
		return fmt.Errorf("stageId is required")
	}
	return nil
}
