package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	httpH "github.com/yungbote/weblink-backend/internal/http/handlers"
	"github.com/yungbote/weblink-backend/internal/normalization"
	weblinksvc "github.com/yungbote/weblink-backend/internal/services/weblink"
)

type fakeWeblinks struct {
	userID string
	links  []types.IngestionJob
	page   weblinksvc.Page
}

func (f *fakeWeblinks) StoreLinks(_ context.Context, userID string, links []types.IngestionJob) (int, error) {
	f.userID, f.links = userID, links
	return len(links), nil
}

func (f *fakeWeblinks) ReadWebLinkContent(_ context.Context, rawURL string) (*types.Data, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: empty", normalization.ErrInvalidURL)
	}
	return &types.Data{Doc: &types.Document{PageContent: "body", Metadata: types.PageMeta{Source: rawURL}}}, nil
}

func (f *fakeWeblinks) ReadMultiWeblinks(_ context.Context, sources []types.Source) ([]*types.Document, error) {
	out := make([]*types.Document, 0, len(sources))
	for _, s := range sources {
		out = append(out, &types.Document{Metadata: s.Metadata})
	}
	return out, nil
}

func (f *fakeWeblinks) GetUserHistory(_ context.Context, userID string, page weblinksvc.Page) ([]*types.UserWeblink, int64, error) {
	f.userID, f.page = userID, page
	return []*types.UserWeblink{{UserID: userID, URL: "https://a.com/"}}, 1, nil
}

func (f *fakeWeblinks) SaveWeblinkUserMarks(_ context.Context, userID string, sources []types.Source, _ string) (int, error) {
	f.userID = userID
	return len(sources), nil
}

func (f *fakeWeblinks) FindWeblink(_ context.Context, _, linkID string) (*types.Weblink, error) {
	if linkID != "wl-1" {
		return nil, weblinksvc.ErrNotFound
	}
	return &types.Weblink{LinkID: linkID, URL: "https://a.com/"}, nil
}

func newTestRouter(svc *fakeWeblinks) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{
		WeblinkHandler: httpH.NewWeblinkHandler(svc),
		HealthHandler:  httpH.NewHealthHandler(nil),
	})
}

func do(r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestWeblinkRoutesRequireUser(t *testing.T) {
	r := newTestRouter(&fakeWeblinks{})
	rec := do(r, http.MethodGet, "/api/weblinks/history", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(r, http.MethodGet, "/healthcheck", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreLinksRoute(t *testing.T) {
	svc := &fakeWeblinks{}
	r := newTestRouter(svc)

	rec := do(r, http.MethodPost, "/api/weblinks", "u1", gin.H{"links": []gin.H{
		{"url": "https://a.com/", "lastVisitTime": 1},
		{"url": "https://b.com/"},
	}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"queued":2}`, rec.Body.String())
	require.Equal(t, "u1", svc.userID)
	require.Equal(t, int64(1), svc.links[0].LastVisitTime)

	rec = do(r, http.MethodPost, "/api/weblinks", "u1", gin.H{"links": []gin.H{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadRoutes(t *testing.T) {
	r := newTestRouter(&fakeWeblinks{})

	rec := do(r, http.MethodGet, "/api/weblinks/content?url=https://a.com/", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pageContent":"body"`)

	rec = do(r, http.MethodGet, "/api/weblinks/content", "u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_url")

	rec = do(r, http.MethodPost, "/api/weblinks/read", "u1", gin.H{"sources": []gin.H{
		{"metadata": gin.H{"source": "https://a.com/"}},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"source":"https://a.com/"`)
}

func TestHistoryAndLookupRoutes(t *testing.T) {
	svc := &fakeWeblinks{}
	r := newTestRouter(svc)

	rec := do(r, http.MethodGet, "/api/weblinks/history?page=2&pageSize=5", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, weblinksvc.Page{Page: 2, PageSize: 5}, svc.page)
	require.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(r, http.MethodGet, "/api/weblinks/wl-1", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"link_id":"wl-1"`)

	rec = do(r, http.MethodGet, "/api/weblinks/wl-404", "u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, http.MethodPost, "/api/weblinks/marks", "u1", gin.H{
		"extensionVersion": "1.0",
		"sources":          []gin.H{{"metadata": gin.H{"source": "https://a.com/"}, "selections": []gin.H{{"content": "x", "xPath": "/p"}}}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"saved":1}`, rec.Body.String())
}
