package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/weblink-backend/internal/platform/apierr"
)

func TestRespondErrUsesAPIErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		code int
		want string
	}{
		{fmt.Errorf("wrap: %w", apierr.New(http.StatusNotFound, "weblink_not_found", errors.New("missing"))), http.StatusNotFound, "weblink_not_found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		RespondErr(c, tc.err)
		if rec.Code != tc.code {
			t.Fatalf("status: want=%d got=%d", tc.code, rec.Code)
		}
		var env ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Error.Code != tc.want {
			t.Fatalf("code: want=%q got=%q", tc.want, env.Error.Code)
		}
	}
}
