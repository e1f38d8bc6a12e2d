package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/viewra-importer/internal/config"
	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/resource"
	"github.com/mantonx/viewra-importer/internal/shares"
)

type fakeImporter struct {
	mu         sync.Mutex
	suspended  bool
	covered    bool
	scheduled  []string
	cancelled  []resource.Path
	cancelAll  int
	activated  int
	includeSub []bool
}

func (f *fakeImporter) IsSuspended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suspended
}

func (f *fakeImporter) Jobs() []importer.JobInfo { return []importer.JobInfo{} }

func (f *fakeImporter) schedule(t importer.JobType, p resource.Path, includeSub bool) *importer.ImportJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.covered {
		return nil
	}
	f.scheduled = append(f.scheduled, string(t)+":"+p.String())
	f.includeSub = append(f.includeSub, includeSub)
	return importer.NewImportJob(t, p, nil, includeSub)
}

func (f *fakeImporter) ScheduleImport(p resource.Path, c []string, sub bool) *importer.ImportJob {
	return f.schedule(importer.JobTypeImport, p, sub)
}

func (f *fakeImporter) ScheduleRefresh(p resource.Path, c []string, sub bool) *importer.ImportJob {
	return f.schedule(importer.JobTypeRefresh, p, sub)
}

func (f *fakeImporter) CancelPendingJobs()                { f.cancelAll++ }
func (f *fakeImporter) CancelJobsForPath(p resource.Path) { f.cancelled = append(f.cancelled, p) }
func (f *fakeImporter) Suspend()                          { f.suspended = true }

func (f *fakeImporter) Activate(b importer.MediaBrowsing, r importer.ResultHandler) {
	f.suspended = false
	f.activated++
}

type fakeCounter struct{ n int64 }

func (c fakeCounter) Count(ctx context.Context) (int64, error) { return c.n, nil }

type fakeShares struct {
	shares map[resource.Path]shares.Share
}

func (f *fakeShares) List() []shares.Share {
	var list []shares.Share
	for _, s := range f.shares {
		list = append(list, s)
	}
	return list
}

func (f *fakeShares) Register(ctx context.Context, s shares.Share) (shares.Share, error) {
	if _, ok := f.shares[s.Path]; ok {
		return shares.Share{}, shares.ErrShareExists
	}
	s.ID = "share-1"
	f.shares[s.Path] = s
	return s, nil
}

func (f *fakeShares) Remove(ctx context.Context, p resource.Path) error {
	if _, ok := f.shares[p]; !ok {
		return shares.ErrShareNotFound
	}
	delete(f.shares, p)
	return nil
}

func (f *fakeShares) RefreshAll() int { return len(f.shares) }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := New(config.ServerConfig{Host: "127.0.0.1", Port: 0, EnableCORS: true}, deps, hclog.NewNullLogger())
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestImporterRoutes(t *testing.T) {
	imp := &fakeImporter{}
	s := newTestServer(t, Deps{Importer: imp, Counter: fakeCounter{n: 42}})
	h := s.Handler()

	w, body := do(t, h, http.MethodGet, "/api/importer/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["suspended"])
	assert.Equal(t, float64(42), body["media_items"])

	w, body = do(t, h, http.MethodPost, "/api/importer/import", map[string]interface{}{"path": "/media", "categories": []string{"Video"}})
	assert.Equal(t, http.StatusAccepted, w.Code)
	job := body["job"].(map[string]interface{})
	assert.Equal(t, "/media", job["base_path"])
	assert.Equal(t, "import", job["type"])

	w, _ = do(t, h, http.MethodPost, "/api/importer/refresh", map[string]interface{}{"path": "/media/tv", "include_sub_directories": false})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"import:/media", "refresh:/media/tv"}, imp.scheduled)
	assert.Equal(t, []bool{true, false}, imp.includeSub)

	w, body = do(t, h, http.MethodPost, "/api/importer/import", map[string]interface{}{"path": "media"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])

	w, _ = do(t, h, http.MethodPost, "/api/importer/import", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	imp.covered = true
	w, body = do(t, h, http.MethodPost, "/api/importer/import", map[string]interface{}{"path": "/media/x"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", body["code"])

	w, _ = do(t, h, http.MethodDelete, "/api/importer/jobs?path=/media", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []resource.Path{"/media"}, imp.cancelled)

	w, _ = do(t, h, http.MethodDelete, "/api/importer/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, imp.cancelAll)

	w, body = do(t, h, http.MethodPost, "/api/importer/suspend", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["suspended"])
	assert.True(t, imp.IsSuspended())

	w, _ = do(t, h, http.MethodPost, "/api/importer/activate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, imp.activated)
}

func TestShareRoutes(t *testing.T) {
	mgr := &fakeShares{shares: make(map[resource.Path]shares.Share)}
	s := newTestServer(t, Deps{Shares: mgr})
	h := s.Handler()

	w, body := do(t, h, http.MethodPost, "/api/shares", map[string]interface{}{"path": "/media/music", "categories": []string{"Audio"}, "watch": true})
	assert.Equal(t, http.StatusCreated, w.Code)
	share := body["share"].(map[string]interface{})
	assert.Equal(t, "/media/music", share["path"])
	assert.Equal(t, true, share["include_sub_directories"])

	w, _ = do(t, h, http.MethodPost, "/api/shares", map[string]interface{}{"path": "/media/music"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = do(t, h, http.MethodGet, "/api/shares", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = do(t, h, http.MethodPost, "/api/shares/refresh", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, float64(1), body["scheduled"])

	w, _ = do(t, h, http.MethodDelete, "/api/shares?path=/media/music", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, h, http.MethodDelete, "/api/shares?path=/media/music", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestHealthAndMissingRoutes(t *testing.T) {
	s := newTestServer(t, Deps{})
	w, body := do(t, s.Handler(), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, s.Handler(), http.MethodGet, "/api/importer/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventStream(t *testing.T) {
	bus := events.NewBus(16, hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	s := newTestServer(t, Deps{Bus: bus})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?types=import.completed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, bus.PublishAsync(events.Event{Type: events.EventImportStarted, Message: "/media"}))
	require.NoError(t, bus.PublishAsync(events.Event{Type: events.EventImportCompleted, Message: "/media"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var received events.Event
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, events.EventImportCompleted, received.Type)
	assert.Equal(t, "/media", received.Message)
}
