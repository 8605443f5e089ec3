package httpapi

import (
	"context"
	"net/http"
	"strings"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/requests"

	"github.com/gin-gonic/gin"
)

type createRequestBody struct {
	DJID        string `json:"dj_id" binding:"required"`
	SongRef     string `json:"song_ref" binding:"required"`
	SongTitle   string `json:"song_title"`
	ArtistName  string `json:"artist_name"`
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Message     string `json:"message"`
}

// CreateSongRequest debits the caller and queues the request for the DJ.
func (h Handlers) CreateSongRequest(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var body createRequestBody
	if !bindJSON(c, &body) {
		return
	}
	dj, err := domain.ParseID(body.DJID)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := h.Requests.Create(c.Request.Context(), requests.CreateRequest{
		RequesterID: p.ID,
		DJID:        dj,
		SongRef:     body.SongRef,
		SongTitle:   body.SongTitle,
		ArtistName:  body.ArtistName,
		AmountMinor: body.AmountMinor,
		Message:     body.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h Handlers) GetSongRequest(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := h.Requests.Get(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// ListMyRequests lists requests the caller sent.
func (h Handlers) ListMyRequests(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	out, err := h.Requests.ListForRequester(c.Request.Context(), p.ID, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// ListQueue lists requests addressed to the calling DJ, optionally ?status=PENDING.
func (h Handlers) ListQueue(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	status := domain.RequestStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", domain.RequestPending, domain.RequestCompleted, domain.RequestRejected, domain.RequestCancelled:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	out, err := h.Requests.ListForDJ(c.Request.Context(), p.ID, status, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (h Handlers) QueueSummary(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.RequestsSummary(c.Request.Context(), p, p.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type transitionFunc func(ctx context.Context, actor auth.Principal, id domain.ID) (domain.SongRequest, error)

func (h Handlers) AcceptSongRequest(c *gin.Context) { h.transition(c, h.Requests.Accept) }
func (h Handlers) RejectSongRequest(c *gin.Context) { h.transition(c, h.Requests.Reject) }
func (h Handlers) CancelSongRequest(c *gin.Context) { h.transition(c, h.Requests.Cancel) }

func (h Handlers) transition(c *gin.Context, fn transitionFunc) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	req, err := fn(c.Request.Context(), p, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// SearchCatalog proxies ?q= to the song catalog.
func (h Handlers) SearchCatalog(c *gin.Context) {
	if h.Catalog == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "catalog not configured"})
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "q required"})
		return
	}
	tracks, err := h.Catalog.Search(c.Request.Context(), q, listLimit(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}
