package domain

import (
	"encoding/json"
	"math"
)

// StatusSnapshot is the player state last reported by the pc endpoint.
type StatusSnapshot struct {
	IsPlaying bool    `json:"isPlaying"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Progress  float64 `json:"progress"`
	Duration  float64 `json:"duration"`
	Volume    int     `json:"volume"`
	// Timestamp is unix milliseconds, stamped by the relay on receipt.
	Timestamp int64 `json:"timestamp"`
}

// UnmarshalJSON accepts fractional volume values, which some players report.
func (s *StatusSnapshot) UnmarshalJSON(data []byte) error {
	type alias StatusSnapshot
	aux := struct {
		*alias
		Volume *float64 `json:"volume"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Volume != nil {
		s.Volume = int(math.Round(*aux.Volume))
	}
	return nil
}

// Normalize clamps values into their documented ranges.
func (s StatusSnapshot) Normalize() StatusSnapshot {
	if s.Volume < 0 {
		s.Volume = 0
	}
	if s.Volume > 100 {
		s.Volume = 100
	}
	if s.Progress < 0 || math.IsNaN(s.Progress) {
		s.Progress = 0
	}
	if s.Duration < 0 || math.IsNaN(s.Duration) {
		s.Duration = 0
	}
	return s
}
