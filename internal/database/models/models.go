package models

import (
	"time"
)

// Detection represents a reported ransomware detection for a file hash.
type Detection struct {
	FileHash    string    `json:"file_hash"`
	Timestamp   string    `json:"timestamp"`
	Reporter    string    `json:"reporter"`
	IsConfirmed bool      `json:"is_confirmed"`
	ReportedAt  time.Time `json:"reported_at"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// IsZero reports whether the detection is the empty record returned for
// a hash that was never reported.
func (d Detection) IsZero() bool {
	return d.FileHash == "" && d.Reporter == "" && d.Timestamp == ""
}

// Reporter represents a trusted reporter entry.
type Reporter struct {
	ID      string    `json:"id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// DetectionRequest is the payload of PUT /api/detections.
type DetectionRequest struct {
	FileHash  string `json:"file_hash"`
	Timestamp string `json:"timestamp"`
}

// ReporterRequest is the payload of PUT /api/reporters.
type ReporterRequest struct {
	Reporter string `json:"reporter"`
}

type DetectionDetailResponse struct {
	Detection Detection `json:"detection"`
}

// ReporterStatusResponse answers the trustedReporters lookup.
type ReporterStatusResponse struct {
	Reporter string `json:"reporter"`
	Trusted  bool   `json:"trusted"`
}

type ReportersResponse struct {
	Reporters []Reporter `json:"reporters"`
	Total     int        `json:"total"`
}

// WhoAmIResponse describes the caller as seen by the registry.
type WhoAmIResponse struct {
	Caller  string `json:"caller"`
	IsOwner bool   `json:"is_owner"`
	Trusted bool   `json:"trusted"`
}

// StatsResponse represents the structure of the /stats API response.
type StatsResponse struct {
	Owner               string `json:"owner"`
	TotalDetections     int    `json:"total_detections"`
	ConfirmedDetections int    `json:"confirmed_detections"`
	TrustedReporters    int    `json:"trusted_reporters"`
}
