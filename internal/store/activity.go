// ABOUTME: Activity record entity shared by every backend and notification payloads
// ABOUTME: One append-only record per processed inbound or outbound message

package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Origin is the direction of a recorded message.
type Origin string

const (
	OriginIncoming Origin = "INCOMING"
	OriginOutgoing Origin = "OUTGOING"
)

// ActivityRecord is one audit entry for a processed message.
type ActivityRecord struct {
	ID                 string // assigned by the backend
	Timestamp          time.Time
	PhoneNumber        string
	Origin             Origin
	RegisterID         string   // key of the stored event
	DestinationSystems []string // systems notified, may be empty
}

// activityWire is the JSON shape shared with downstream systems.
// The timestamp is unix milliseconds as a string.
type activityWire struct {
	Timestamp          string   `json:"timestamp"`
	DestinationSystems []string `json:"destination_systems"`
	PhoneNumber        string   `json:"phone_number"`
	Origin             Origin   `json:"origin"`
	RegisterID         string   `json:"register_id"`
}

// MarshalJSON encodes the record in the notification wire shape.
func (r ActivityRecord) MarshalJSON() ([]byte, error) {
	systems := r.DestinationSystems
	if systems == nil {
		systems = []string{}
	}
	return json.Marshal(activityWire{
		Timestamp:          strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		DestinationSystems: systems,
		PhoneNumber:        r.PhoneNumber,
		Origin:             r.Origin,
		RegisterID:         r.RegisterID,
	})
}

// UnmarshalJSON decodes the notification wire shape.
func (r *ActivityRecord) UnmarshalJSON(data []byte) error {
	var w activityWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ms, err := strconv.ParseInt(w.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", w.Timestamp, err)
	}
	*r = ActivityRecord{
		Timestamp:          time.UnixMilli(ms).UTC(),
		PhoneNumber:        w.PhoneNumber,
		Origin:             w.Origin,
		RegisterID:         w.RegisterID,
		DestinationSystems: w.DestinationSystems,
	}
	return nil
}

// HasDestination reports whether system was notified.
func (r *ActivityRecord) HasDestination(system string) bool {
	return slices.Contains(r.DestinationSystems, system)
}

// ActivityFilter specifies filtering options for listing activity.
type ActivityFilter struct {
	PhoneNumber string     // empty for all users
	Origin      Origin     // empty for both directions
	Since       *time.Time // records at or after this time
	Limit       int        // max results (default 100, max 1000)
}

// matches reports whether r passes the filter fields other than Limit.
func (f ActivityFilter) matches(r *ActivityRecord) bool {
	if f.PhoneNumber != "" && r.PhoneNumber != f.PhoneNumber {
		return false
	}
	if f.Origin != "" && r.Origin != f.Origin {
		return false
	}
	if f.Since != nil && r.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// normalizeActivityLimit applies default (100) and cap (1000) to limit.
func normalizeActivityLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// prepareRecord fills the timestamp when the caller left it zero.
func prepareRecord(r *ActivityRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
}
