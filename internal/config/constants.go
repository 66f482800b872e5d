package config

import "time"

const (
	// AI request timeout
	RequestTimeout = 90 * time.Second

	// Image download timeout
	DownloadTimeout = 30 * time.Second

	// /history view bounds
	DefaultViewCount = 5
	MaxViewCount     = 50
)
