package domain

import "time"

// Notification announces that a growth stage of a throw begins at ScheduledFor.
// Notifications are created once per (record, stage) and only ever marked read.
type Notification struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"throwId"`
	StageID      string    `json:"stageId"`
	StageName    string    `json:"stageName"`
	StageIcon    string    `json:"stageIcon"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Read         bool      `json:"read"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsDue reports whether the notification is unread and its time has come.
func (n Notification) IsDue(now time.Time) bool {
	return !n.Read && !n.ScheduledFor.After(now)
}
