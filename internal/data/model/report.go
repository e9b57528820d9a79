package model

import "time"

// Report is the ledger row written for every ingested scan. It outlives the
// scan's eviction from the in-memory store; EvictedAt is set at that point.
type Report struct {
	CreatedAt     time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	ScanDate      time.Time  `json:"scanDate"`
	EvictedAt     *time.Time `json:"evictedAt,omitempty"`
	ScanID        string     `json:"scanId" gorm:"not null;index:idx_scan_id"`
	Repository    string     `json:"repository" gorm:"not null;index:idx_repository"`
	RepositoryURL string     `json:"repositoryUrl"`
	Status        string     `json:"status" gorm:"not null"`
	Error         string     `json:"error,omitempty"`
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Critical      int        `json:"critical"`
	High          int        `json:"high"`
	Medium        int        `json:"medium"`
	Low           int        `json:"low"`
	Total         int        `json:"total"`
	QualityScore  int        `json:"qualityScore"`
	Solutions     int        `json:"solutions"`
}

// Evicted reports whether the scan has left the in-memory store.
func (r *Report) Evicted() bool {
	return r.EvictedAt != nil
}
