package models

import (
	"time"
)

// Programme represents a single scheduled slot on a guide channel.
type Programme struct {
	ChannelID   string    `json:"channelId"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	Stop        time.Time `json:"stop"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// GuideSnapshot is the published output of one successful refresh.
// It is never modified after being stored.
type GuideSnapshot struct {
	ID             string    `json:"id"`
	XMLTV          []byte    `json:"-"`
	M3U            []byte    `json:"-"`
	GeneratedAt    time.Time `json:"generatedAt"`
	FixtureCount   int       `json:"fixtureCount"`
	ProgrammeCount int       `json:"programmeCount"`
	DroppedCount   int       `json:"droppedCount"`
}

// RefreshResult summarises one pass through the refresh pipeline.
type RefreshResult struct {
	SnapshotID     string         `json:"snapshotId"`
	Fetched        int            `json:"fetched"`
	Normalized     int            `json:"normalized"`
	InWindow       int            `json:"inWindow"`
	Programmes     int            `json:"programmes"`
	Dropped        map[string]int `json:"dropped,omitempty"` // drop reason -> count
	Duration       time.Duration  `json:"duration"`
	GeneratedAt    time.Time      `json:"generatedAt"`
	PlaylistOutput bool           `json:"playlistOutput"`
}

// GuideStatus represents the status of the guide service.
type GuideStatus struct {
	Available      bool       `json:"available"`
	Refreshing     bool       `json:"refreshing"`
	LastRun        *time.Time `json:"lastRun,omitempty"`
	LastSuccess    *time.Time `json:"lastSuccess,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	SnapshotID     string     `json:"snapshotId,omitempty"`
	ChannelCount   int        `json:"channelCount"`
	ProgrammeCount int        `json:"programmeCount"`
	FixtureCount   int        `json:"fixtureCount"`
	SuccessCount   int        `json:"successCount"`
	FailureCount   int        `json:"failureCount"`
}

// SchedulerStatus describes the refresh loop.
type SchedulerStatus struct {
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	NextRun   *time.Time `json:"nextRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
	RunCount  int        `json:"runCount"`
	Skipped   int        `json:"skipped"`
	Panics    int        `json:"panics"`
}
