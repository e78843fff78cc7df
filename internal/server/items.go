// file: internal/server/items.go
// version: 1.0.0
// guid: 6a1d9e3b-52c7-4f08-b8e4-0c9f7a2d61b5

package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/oklog/ulid/v2"

	"github.com/jdfalk/paced-downloader/internal/models"
)

// AddItemRequest is the body of POST /api/v1/items.
type AddItemRequest struct {
	ID              string `json:"id"`
	Title           string `json:"title" binding:"required"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	Quality         string `json:"quality"`
	DestinationPath string `json:"destination_path"`
	TotalSize       int64  `json:"total_size"`
	Explicit        bool   `json:"explicit"`
	SourceRef       string `json:"source_ref" binding:"required"`
}

// Item converts the request, generating an ID when none is given.
func (r AddItemRequest) Item() (*models.DownloadItem, error) {
	quality := models.QualityStandard
	if strings.TrimSpace(r.Quality) != "" {
		q, err := models.ParseQuality(r.Quality)
		if err != nil {
			return nil, err
		}
		quality = q
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	return &models.DownloadItem{
		ID:              id,
		Title:           r.Title,
		Artist:          r.Artist,
		Album:           r.Album,
		Quality:         quality,
		DestinationPath: r.DestinationPath,
		BytesTotal:      r.TotalSize,
		Explicit:        r.Explicit,
		SourceRef:       r.SourceRef,
	}, nil
}

// FilterItems keeps items in status (when set) whose display name fuzzily
// matches term (when set).
func FilterItems(items []models.DownloadItem, status, term string) []models.DownloadItem {
	term = strings.TrimSpace(term)
	status = strings.TrimSpace(status)
	out := items[:0:0]
	for _, it := range items {
		if status != "" && !strings.EqualFold(it.Status.String(), status) {
			continue
		}
		if term != "" && !fuzzy.MatchNormalizedFold(term, it.DisplayName()) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (s *Server) listItems(c *gin.Context) {
	page := ParsePaginationParams(c)
	items := FilterItems(s.svc.List(), c.Query("status"), c.Query("match"))

	total := len(items)
	start := min(page.Offset, total)
	end := min(start+page.Limit, total)
	window := items[start:end]

	c.JSON(http.StatusOK, ListResponse{
		Items:  window,
		Count:  len(window),
		Limit:  page.Limit,
		Offset: page.Offset,
		Total:  total,
	})
}

func (s *Server) addItem(c *gin.Context) {
	var req AddItemRequest
	if s.HandleBindError(c, c.ShouldBindJSON(&req)) {
		return
	}
	it, err := req.Item()
	if err != nil {
		s.RespondWithError(c, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.enqueueTimeout)
	defer cancel()
	if err := s.svc.Enqueue(ctx, it); err != nil {
		s.RespondWithQueueError(c, err)
		return
	}

	created, ok := s.svc.Get(it.ID)
	if !ok {
		created = *it
	}
	c.JSON(http.StatusCreated, CreateResponse{ID: it.ID, Data: created})
}

func (s *Server) getItem(c *gin.Context) {
	id := c.Param("id")
	it, ok := s.svc.Get(id)
	if !ok {
		s.RespondWithNotFound(c, "item", id)
		return
	}
	c.JSON(http.StatusOK, ItemResponse{Data: it})
}

func (s *Server) removeItem(c *gin.Context) {
	id := c.Param("id")
	if !s.svc.Remove(id) {
		s.RespondWithNotFound(c, "item", id)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Deleted: true, ID: id})
}

func (s *Server) pauseItem(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Pause(id); err != nil {
		s.RespondWithQueueError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "pause requested", Code: "PAUSING"})
}

func (s *Server) resumeItem(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.enqueueTimeout)
	defer cancel()
	if err := s.svc.Resume(ctx, id); err != nil {
		s.RespondWithQueueError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, MessageResponse{Message: "resumed", Code: "RESUMED"})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Stats())
}
