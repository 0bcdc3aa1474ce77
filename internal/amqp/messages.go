package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// DatasetRefreshedMessage announces that a new mirror snapshot is available.
// Consumers reload from the mirror; the payload itself is never sent.
type DatasetRefreshedMessage struct {
	SnapshotID string    `json:"snapshot_id"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDatasetRefreshedMessage creates a message stamped with the current time.
func NewDatasetRefreshedMessage(snapshotID, source string, rows int) *DatasetRefreshedMessage {
	return &DatasetRefreshedMessage{
		SnapshotID: snapshotID,
		Source:     source,
		Rows:       rows,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *DatasetRefreshedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DatasetRefreshedMessageFromJSON decodes a message and checks it names a
// snapshot.
func DatasetRefreshedMessageFromJSON(data []byte) (*DatasetRefreshedMessage, error) {
	var msg DatasetRefreshedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.SnapshotID == "" {
		return nil, errors.New("message has no snapshot_id")
	}
	return &msg, nil
}
