package models

import (
	"errors"
	"time"
)

const BackupFormatVersion = "1.0"

type BackupMetadata struct {
	Version    string `json:"version"`
	TotalBooks int    `json:"totalBooks"`
	TotalUsers int    `json:"totalUsers"`
}

// BackupBundle is the serialized snapshot. User passwords never serialize,
// so restored accounts need a password reset.
type BackupBundle struct {
	Timestamp time.Time      `json:"timestamp"`
	Books     []Book         `json:"books"`
	Users     []User         `json:"users"`
	Analytics []Analytics    `json:"analytics"`
	Metadata  BackupMetadata `json:"metadata"`
}

var ErrInvalidBackup = errors.New("invalid backup format")
