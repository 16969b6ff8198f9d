package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/http/middleware"
	"github.com/yungbote/weblink-backend/internal/http/response"
	"github.com/yungbote/weblink-backend/internal/ingestion/extractor"
	"github.com/yungbote/weblink-backend/internal/normalization"
	"github.com/yungbote/weblink-backend/internal/platform/apierr"
	weblinksvc "github.com/yungbote/weblink-backend/internal/services/weblink"
)

// WeblinkService is what the HTTP surface needs from the ingestion orchestrator.
type WeblinkService interface {
	StoreLinks(ctx context.Context, userID string, links []types.IngestionJob) (int, error)
	ReadWebLinkContent(ctx context.Context, rawURL string) (*types.Data, error)
	ReadMultiWeblinks(ctx context.Context, sources []types.Source) ([]*types.Document, error)
	GetUserHistory(ctx context.Context, userID string, page weblinksvc.Page) ([]*types.UserWeblink, int64, error)
	SaveWeblinkUserMarks(ctx context.Context, userID string, sources []types.Source, extensionVersion string) (int, error)
	FindWeblink(ctx context.Context, rawURL, linkID string) (*types.Weblink, error)
}

type WeblinkHandler struct {
	svc WeblinkService
}

func NewWeblinkHandler(svc WeblinkService) *WeblinkHandler {
	return &WeblinkHandler{svc: svc}
}

type storeLinksRequest struct {
	Links []types.IngestionJob `json:"links"`
}

// POST /api/weblinks
func (h *WeblinkHandler) StoreLinks(c *gin.Context) {
	var req storeLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Links) == 0 {
		response.RespondError(c, http.StatusBadRequest, "no_links", errors.New("links is empty"))
		return
	}
	queued, err := h.svc.StoreLinks(c.Request.Context(), middleware.UserID(c), req.Links)
	if err != nil {
		_ = c.Error(err)
		if queued == 0 {
			response.RespondErr(c, apierr.Unavailable("enqueue_failed", err))
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

// GET /api/weblinks/content?url=
func (h *WeblinkHandler) ReadContent(c *gin.Context) {
	data, err := h.svc.ReadWebLinkContent(c.Request.Context(), c.Query("url"))
	if err != nil {
		response.RespondErr(c, classify(err))
		return
	}
	response.RespondOK(c, gin.H{"doc": data.Doc})
}

type readMultiRequest struct {
	Sources []types.Source `json:"sources"`
}

// POST /api/weblinks/read
func (h *WeblinkHandler) ReadMulti(c *gin.Context) {
	var req readMultiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	docs, err := h.svc.ReadMultiWeblinks(c.Request.Context(), req.Sources)
	if err != nil {
		response.RespondErr(c, classify(err))
		return
	}
	if docs == nil {
		docs = []*types.Document{}
	}
	response.RespondOK(c, gin.H{"docs": docs})
}

// GET /api/weblinks/history?page=&pageSize=
func (h *WeblinkHandler) History(c *gin.Context) {
	page := weblinksvc.Page{
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "pageSize"),
	}
	items, total, err := h.svc.GetUserHistory(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"items": items, "total": total})
}

type saveMarksRequest struct {
	Sources          []types.Source `json:"sources"`
	ExtensionVersion string         `json:"extensionVersion"`
}

// POST /api/weblinks/marks
func (h *WeblinkHandler) SaveMarks(c *gin.Context) {
	var req saveMarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	n, err := h.svc.SaveWeblinkUserMarks(c.Request.Context(), middleware.UserID(c), req.Sources, req.ExtensionVersion)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"saved": n})
}

// GET /api/weblinks/:linkId
func (h *WeblinkHandler) Get(c *gin.Context) {
	w, err := h.svc.FindWeblink(c.Request.Context(), "", c.Param("linkId"))
	if err != nil {
		response.RespondErr(c, classify(err))
		return
	}
	response.RespondOK(c, gin.H{"weblink": w})
}

func classify(err error) error {
	switch {
	case errors.Is(err, normalization.ErrInvalidURL):
		return apierr.BadRequest("invalid_url", err)
	case weblinksvc.IsNotFound(err):
		return apierr.NotFound("weblink_not_found", err)
	case errors.Is(err, extractor.ErrNoContent):
		return apierr.Unprocessable("no_content", err)
	}
	return err
}

func queryInt(c *gin.Context, name string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		return 0
	}
	return n
}
