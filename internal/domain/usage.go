package domain

import "time"

type UsageLog struct {
	UserID          string
	JobID           string
	Variant         string
	ItemsProcessed  int
	PixelsProcessed int64
	ArchiveBytes    int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
