// file: internal/server/response_types.go
// version: 2.0.0
// guid: 7f8a9b0c-1d2e-3f4a-5b6c-7d8e9f0a1b2c

package server

import "github.com/jdfalk/paced-downloader/internal/models"

// ListResponse provides a consistent format for paginated list responses
type ListResponse struct {
	Items  []models.DownloadItem `json:"items"`
	Count  int                   `json:"count"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
	Total  int                   `json:"total"`
}

// ItemResponse provides a consistent format for single item responses
type ItemResponse struct {
	Data models.DownloadItem `json:"data"`
}

// CreateResponse provides a consistent format for resource creation responses
type CreateResponse struct {
	ID   string              `json:"id"`
	Data models.DownloadItem `json:"data"`
}

// MessageResponse provides a consistent format for status messages
type MessageResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DeleteResponse provides a consistent format for deletion responses
type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// StatusResponse provides a consistent format for status check responses
type StatusResponse struct {
	Status  string `json:"status"` // "ok", "degraded"
	Version string `json:"version"`
	Data    any    `json:"data,omitempty"`
}
