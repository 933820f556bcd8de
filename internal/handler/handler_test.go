package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/hub"
	"rollcall/internal/session"
)

const (
	testIssuer = "rollcall-test"
	testKey    = "test-signing-key"
)

func newTestRouter(t *testing.T) (*gin.Engine, session.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewMemory()
	changeHub := hub.New(nil, nil)
	ctrl := session.NewController(store, changeHub, nil)
	agg := session.NewAggregator(store, nil)
	h := New(ctrl, agg, store, nil, changeHub, nil, nil, testIssuer, testKey, time.Minute, time.Hour)

	r := gin.New()
	h.Register(r)
	return r, store
}

func issueToken(t *testing.T, r *gin.Engine, userID, role string) string {
	t.Helper()
	rec := doJSON(r, http.MethodPost, "/v1/auth/token", "", `{"user_id":"`+userID+`","role":"`+role+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("token issue failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := doJSON(r, http.MethodPost, "/v1/auth/token", "", `{"user_id":"x","role":"admin"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", rec.Code)
	}
}

func TestLifecycleRequiresTeacherRole(t *testing.T) {
	r, _ := newTestRouter(t)
	student := issueToken(t, r, "alice", "student")

	rec := doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/2026-03-02/unlock", student, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student unlock should be 403, got %d", rec.Code)
	}
	rec = doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/2026-03-02/unlock", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous unlock should be 401, got %d", rec.Code)
	}
}

func TestSignInFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	teacher := issueToken(t, r, "t1", "teacher")
	student := issueToken(t, r, "alice", "student")

	// Locked session rejects sign-in.
	rec := doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/2026-03-02/signin", student, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("sign-in before unlock should be 409, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/2026-03-02/unlock", teacher, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unlock failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/2026-03-02/signin", student, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(r, http.MethodGet, "/v1/schedules/s1/sessions/2026-03-02?student_id=alice", student, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session failed: %d", rec.Code)
	}
	var resp struct {
		State session.ResolvedState `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State.SignIn != session.SignInSigned || !resp.State.HasSigned {
		t.Fatalf("expected SIGNED state, got %+v", resp.State)
	}

	rec = doJSON(r, http.MethodGet, "/v1/schedules/s1/stats?student_id=alice", student, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", rec.Code)
	}
	var stats struct {
		Attended int `json:"attended"`
		Total    int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Attended != 1 || stats.Total != 1 {
		t.Fatalf("expected (1, 1), got (%d, %d)", stats.Attended, stats.Total)
	}
}

func TestManualMark(t *testing.T) {
	r, store := newTestRouter(t)
	teacher := issueToken(t, r, "t1", "teacher")

	rec := doJSON(r, http.MethodPut, "/v1/schedules/s1/sessions/2026-03-02/marks/bob", teacher, `{"status":"EXCUSED"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark failed: %d %s", rec.Code, rec.Body.String())
	}
	snap, _ := store.Get(context.Background(), "s1", "2026-03-02")
	if m := snap.Mark("bob"); m == nil || m.Status != session.StatusExcused {
		t.Fatalf("expected EXCUSED mark, got %+v", m)
	}

	rec = doJSON(r, http.MethodPut, "/v1/schedules/s1/sessions/2026-03-02/marks/bob", teacher, `{"status":"NAPPING"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status should be 400, got %d", rec.Code)
	}
}

func TestStatsRequiresStudentID(t *testing.T) {
	r, _ := newTestRouter(t)
	teacher := issueToken(t, r, "t1", "teacher")
	rec := doJSON(r, http.MethodGet, "/v1/schedules/s1/stats", teacher, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without student_id, got %d", rec.Code)
	}
}

func TestTotalSessionsCount(t *testing.T) {
	r, _ := newTestRouter(t)
	teacher := issueToken(t, r, "t1", "teacher")

	for _, date := range []string{"2026-03-02", "2026-03-09"} {
		if rec := doJSON(r, http.MethodPost, "/v1/schedules/s1/sessions/"+date+"/unlock", teacher, ""); rec.Code != http.StatusOK {
			t.Fatalf("unlock %s failed: %d", date, rec.Code)
		}
	}
	rec := doJSON(r, http.MethodGet, "/v1/schedules/s1/sessions/count", teacher, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("count failed: %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 sessions held, got %d", resp.Total)
	}
}

func TestCourseSchedulesUnavailableWithoutDirectory(t *testing.T) {
	r, _ := newTestRouter(t)
	teacher := issueToken(t, r, "t1", "teacher")
	rec := doJSON(r, http.MethodGet, "/v1/courses/c1/schedules", teacher, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without schedule directory, got %d", rec.Code)
	}
}
