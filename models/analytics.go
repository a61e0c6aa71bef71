package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SystemMetric struct {
	Timestamp   time.Time    `bson:"timestamp" json:"timestamp"`
	CPUUsage    float64      `bson:"cpuUsage" json:"cpuUsage"` // 1-minute load average
	MemoryUsage MemoryUsage  `bson:"memoryUsage" json:"memoryUsage"`
	DiskUsage   float64      `bson:"diskUsage" json:"diskUsage"` // percent used
	Requests    RequestStats `bson:"activeRequests" json:"activeRequests"`
}

type MemoryUsage struct {
	Total uint64 `bson:"total" json:"total"`
	Used  uint64 `bson:"used" json:"used"`
	Free  uint64 `bson:"free" json:"free"`
}

type RequestStats struct {
	Total      int64 `bson:"total" json:"total"`
	Successful int64 `bson:"successful" json:"successful"`
	Failed     int64 `bson:"failed" json:"failed"`
}

type UserMetric struct {
	Date        time.Time `bson:"date" json:"date"`
	TotalUsers  int64     `bson:"totalUsers" json:"totalUsers"`
	ActiveUsers int64     `bson:"activeUsers" json:"activeUsers"`
	NewUsers    int64     `bson:"newUsers" json:"newUsers"`
}

type GenreCount struct {
	Genre string `bson:"genre" json:"genre"`
	Count int64  `bson:"count" json:"count"`
}

type BookMetric struct {
	Date          time.Time    `bson:"date" json:"date"`
	TotalBooks    int64        `bson:"totalBooks" json:"totalBooks"`
	BooksAdded    int64        `bson:"booksAdded" json:"booksAdded"`
	PopularGenres []GenreCount `bson:"popularGenres" json:"popularGenres"`
}

type ErrorEntry struct {
	Timestamp  time.Time          `bson:"timestamp" json:"timestamp"`
	Error      string             `bson:"error" json:"error"`
	Endpoint   string             `bson:"endpoint" json:"endpoint"`
	Method     string             `bson:"method" json:"method"`
	StatusCode int                `bson:"statusCode" json:"statusCode"`
	User       primitive.ObjectID `bson:"user,omitempty" json:"user,omitempty"`
}

const (
	BackupCompleted = "completed"
	BackupFailed    = "failed"
)

type BackupEvent struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Status    string    `bson:"status" json:"status"`
	Location  string    `bson:"location,omitempty" json:"location,omitempty"`
	Size      int64     `bson:"size,omitempty" json:"size,omitempty"`
	Error     string    `bson:"error,omitempty" json:"error,omitempty"`
}

// Analytics is the per-deployment document of append-only metric series.
type Analytics struct {
	ID            string         `bson:"_id,omitempty" json:"id"`
	SystemMetrics []SystemMetric `bson:"systemMetrics" json:"systemMetrics"`
	UserMetrics   []UserMetric   `bson:"userMetrics" json:"userMetrics"`
	BookMetrics   []BookMetric   `bson:"bookMetrics" json:"bookMetrics"`
	Errors        []ErrorEntry   `bson:"errors" json:"errors"`
	Backups       []BackupEvent  `bson:"backups" json:"backups"`
}
