package model

import "time"

// TopicSetting identifies one logical sensor feed. Rows are read once at
// subscribe time; changing them requires a restart of the ingestion worker.
type TopicSetting struct {
	ID               int
	GroupID          int
	SensorType       string
	SensorName       string
	SensorLocation   string
	DefaultTopicPath string
	HasRecovery      bool
}

// TopicPath builds the broker topic for this feed.
func (s TopicSetting) TopicPath() string {
	return joinTopic(s.DefaultTopicPath, s.GroupID, s.SensorType, s.SensorName)
}

// Reading is one decoded measurement. Value and Sequence are nil when the
// producer sent a placeholder (typically alongside a recovery batch).
type Reading struct {
	Timestamp int64
	Value     *float64
	Sequence  *int
}

// CoordinateMapping is one postal-code row in Postgres. LastUsed and
// LockedUntil are only ever mutated by the leasing protocol.
type CoordinateMapping struct {
	PostalCode  int
	Location    string
	Latitude    float64
	Longitude   float64
	LastUsed    *time.Time
	LockedUntil *time.Time
}

// Available reports whether the row is eligible for a new lease at t.
func (m CoordinateMapping) Available(t time.Time) bool {
	return m.LockedUntil == nil || m.LockedUntil.Before(t)
}

// WeatherData is one outside-temperature sample from a weather API.
type WeatherData struct {
	Temperature float64
	Timestamp   time.Time
}
