package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/orzlee/jdbot/internal/config"
	"github.com/orzlee/jdbot/internal/store"
)

var testDBSeq int64

type fakePublisher struct {
	published []string
	err       error
}

func (p *fakePublisher) PublishSession(ctx context.Context, jobID string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, jobID)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakePublisher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:handlers%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	repo := store.NewRepo(db)
	require.NoError(t, repo.AutoMigrate())

	pub := &fakePublisher{}
	return New(repo, config.Config{}, pub), pub
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/trigger", h.CreateTrigger)
	r.GET("/jobs/:id", h.GetJob)
	return r
}

func TestCreateTrigger_QueuesJob(t *testing.T) {
	h, pub := newTestHandler(t)
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trigger",
		strings.NewReader(`{"requester_id":"490884842","requester_name":"Orz"}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, pub.published, 1)

	job, err := h.Repo.GetJobByID(context.Background(), pub.published[0])
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, job.Status)
	require.Equal(t, "490884842", job.RequesterID)
	require.Equal(t, "Orz", job.RequesterName)
}

func TestCreateTrigger_MissingRequesterID(t *testing.T) {
	h, pub := newTestHandler(t)
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, pub.published)
}

func TestCreateTrigger_IdempotencyKeyDedupes(t *testing.T) {
	h, pub := newTestHandler(t)
	r := newTestRouter(h)

	body := `{"requester_id":"111","idempotency_key":"upd-42"}`
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body))
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	require.Len(t, pub.published, 1, "duplicate trigger must not publish twice")
}

func TestGetJob(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	job := &store.SessionJob{ID: store.NewJobID(), RequesterID: "111", Status: store.JobQueued}
	require.NoError(t, h.Repo.CreateJob(context.Background(), job))
	require.NoError(t, h.Repo.MarkJobSucceeded(context.Background(), job.ID, "ctr-9"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"succeeded"`)
	require.Contains(t, w.Body.String(), `"container_id":"ctr-9"`)
}

func TestGetJob_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
