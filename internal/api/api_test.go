package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/editor"
	"labReport/internal/errcode"
	"labReport/internal/layout"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/reportdata"
	"labReport/internal/storage"
	"labReport/internal/worker"
)

type testServer struct {
	router    *gin.Engine
	hub       *notify.Hub
	flag      *notify.MemoryFlag
	inline    *worker.Inline
	assets    *storage.Filesystem
	projectID uint
}

func newTestServer(t *testing.T, limiter Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := database.InitDatabase(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	templates := database.NewTemplateStore(db)
	projects := database.NewReportSource(db)
	projectID, err := projects.ImportReport(ctx, reportdata.Report{
		Project: reportdata.Project{Name: "Gedung A", Number: "P-01"},
		Trials:  []reportdata.Trial{{Name: "T1"}, {Name: "T2"}},
	})
	require.NoError(t, err)

	assets, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	hub := notify.NewHub()
	flag := notify.NewMemoryFlag()
	reports := report.NewService(templates, projects, assets, flag, nil, report.Options{}, logger)
	sessions := editor.NewManager(reports.Registry(), 10, 0)

	mux := worker.NewServeMux(
		worker.NewPDFTaskHandler(reports, hub, logger),
		worker.NewTemplatePreviewHandler(reports, templates, assets, hub, logger),
	)
	inline := worker.NewInline(mux, 10*time.Second, logger)

	cfg := &config.Config{Assets: config.AssetsConfig{MaxBytes: 64 * 1024}}
	router := NewRouter(logger)
	RegisterRoutes(router, Deps{
		Config:     cfg,
		Logger:     logger,
		Templates:  templates,
		Projects:   projects,
		Reports:    reports,
		Sessions:   sessions,
		Assets:     assets,
		Jobs:       inline,
		Subscriber: hub,
		Limiter:    limiter,
	})
	return &testServer{router: router, hub: hub, flag: flag, inline: inline, assets: assets, projectID: projectID}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type sessionBody struct {
	ID         string          `json:"sessionId"`
	TemplateID uint            `json:"templateId"`
	Template   json.RawMessage `json:"template"`
	Selected   string          `json:"selected"`
	CanUndo    bool            `json:"canUndo"`
	CanRedo    bool            `json:"canRedo"`
}

type mutationBody struct {
	Applied bool            `json:"applied"`
	Node    json.RawMessage `json:"node"`
	Session sessionBody     `json:"session"`
}

func libraryDrop(kind layout.Kind, dest string) layout.DragResult {
	return layout.DragResult{
		DraggableID: layout.LibraryDraggablePrefix + string(kind),
		Source:      layout.Location{DroppableID: layout.LibraryDroppable},
		Destination: &layout.Location{DroppableID: dest},
	}
}

func TestHealthAndComponents(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	w = s.do(t, http.MethodGet, "/v1/components", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Components []map[string]any `json:"components"`
	}](t, w)
	assert.NotEmpty(t, body.Components)
	var kinds []any
	for _, c := range body.Components {
		kinds = append(kinds, c["kind"])
	}
	assert.Contains(t, kinds, string(layout.KindTrialLoop))

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTemplateCRUD(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/templates", gin.H{"name": "Standar"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[templateDetailResponse](t, w)
	assert.Equal(t, 1, created.Version)
	assert.Contains(t, string(created.Content), `"pageSettings"`)

	w = s.do(t, http.MethodPost, "/v1/templates", gin.H{"name": "Standar"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/v1/templates", gin.H{"name": "Rusak", "content": json.RawMessage(`{"layout":`)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/v1/templates/" + strconv.Itoa(int(created.ID))
	w = s.do(t, http.MethodPut, path, gin.H{"name": "Standar v2", "content": json.RawMessage(`[{"kind":"spacer"}]`)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[templateDetailResponse](t, w)
	assert.Equal(t, 2, updated.Version)
	assert.Contains(t, string(updated.Content), `"spacer"`)

	w = s.do(t, http.MethodPost, path+"/save-as", gin.H{"name": "Salinan"})
	require.Equal(t, http.StatusCreated, w.Code)
	copied := decode[templateDetailResponse](t, w)
	assert.NotEqual(t, created.ID, copied.ID)
	assert.JSONEq(t, string(updated.Content), string(copied.Content))

	w = s.do(t, http.MethodGet, "/v1/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]templateListItem](t, w), 2)

	w = s.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/v1/templates/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionEditing(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sess := decode[sessionBody](t, w)
	base := "/v1/sessions/" + sess.ID

	w = s.do(t, http.MethodPost, base+"/move", libraryDrop(layout.KindCustomText, layout.PageAddress(0)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[mutationBody](t, w)
	assert.True(t, moved.Applied)
	assert.True(t, moved.Session.CanUndo)
	var node struct {
		InstanceID string `json:"instanceId"`
	}
	require.NoError(t, json.Unmarshal(moved.Node, &node))
	require.NotEmpty(t, node.InstanceID)

	// 第二个页眉违反每页上限。
	w = s.do(t, http.MethodPost, base+"/move", libraryDrop(layout.KindHeader, layout.PageAddress(0)))
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, base+"/move", libraryDrop(layout.KindHeader, layout.PageAddress(0)))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	rejected := decode[map[string]any](t, w)
	assert.EqualValues(t, errcode.PlacementViolation, rejected["code"])
	assert.Equal(t, string(layout.RuleMaxPerPage), rejected["rule"])

	// 查找失败不是错误。
	w = s.do(t, http.MethodPost, base+"/move", layout.DragResult{
		DraggableID: "nope",
		Source:      layout.Location{DroppableID: "page-7"},
		Destination: &layout.Location{DroppableID: layout.PageAddress(0)},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[mutationBody](t, w).Applied)

	w = s.do(t, http.MethodPatch, base+"/nodes/"+node.InstanceID, gin.H{"path": "content", "value": "Hasil Uji {{nama_proyek}}"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[mutationBody](t, w).Applied)

	w = s.do(t, http.MethodPatch, base+"/nodes/missing", gin.H{"path": "content", "value": "x"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[mutationBody](t, w).Applied)

	w = s.do(t, http.MethodPost, base+"/select", gin.H{"instance_id": node.InstanceID})
	assert.Equal(t, node.InstanceID, decode[mutationBody](t, w).Session.Selected)

	w = s.do(t, http.MethodGet, base+"/canvas?project_id="+strconv.Itoa(int(s.projectID)), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hasil Uji Gedung A")
	assert.Contains(t, w.Body.String(), node.InstanceID)

	w = s.do(t, http.MethodPost, base+"/undo", nil)
	undone := decode[mutationBody](t, w)
	assert.True(t, undone.Applied)
	assert.True(t, undone.Session.CanRedo)
	assert.NotContains(t, string(undone.Session.Template), "Hasil Uji")

	w = s.do(t, http.MethodPost, base+"/redo", nil)
	assert.Contains(t, string(decode[mutationBody](t, w).Session.Template), "Hasil Uji")

	w = s.do(t, http.MethodPost, base+"/pages", nil)
	assert.True(t, decode[mutationBody](t, w).Applied)
	w = s.do(t, http.MethodDelete, base+"/pages/1", nil)
	assert.True(t, decode[mutationBody](t, w).Applied)
	w = s.do(t, http.MethodPatch, base+"/page-settings", gin.H{"key": "orientation", "value": "landscape"})
	assert.True(t, decode[mutationBody](t, w).Applied)

	w = s.do(t, http.MethodPost, base+"/save", gin.H{"name": "Dari Sesi"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	saved := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, saved["version"])

	w = s.do(t, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, w)["version"])

	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func createTemplate(t *testing.T, s *testServer, content string) uint {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/templates", gin.H{"name": "T-" + strconv.FormatInt(time.Now().UnixNano(), 36), "content": json.RawMessage(content)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[templateDetailResponse](t, w).ID
}

func TestReportGenerate(t *testing.T) {
	s := newTestServer(t, nil)
	templateID := createTemplate(t, s, `[{"kind":"placeholder","properties":{"token":"nama_proyek"}}]`)

	req := gin.H{"template_id": templateID, "project_id": s.projectID}
	w := s.do(t, http.MethodPost, "/v1/reports/generate", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Gedung A.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	release, err := s.flag.Acquire(context.Background(), report.FlagKey(s.projectID))
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, "/v1/reports/generate", req)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.EqualValues(t, errcode.GenerationInFlight, decode[map[string]any](t, w)["code"])

	w = s.do(t, http.MethodGet, "/v1/reports/status/"+strconv.Itoa(int(s.projectID)), nil)
	assert.Equal(t, true, decode[map[string]any](t, w)["in_flight"])
	release()

	w = s.do(t, http.MethodPost, "/v1/reports/generate", gin.H{"template_id": 999, "project_id": s.projectID})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodPost, "/v1/reports/generate", gin.H{"project_id": s.projectID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/v1/reports/generate", gin.H{"template_id": templateID, "project_id": s.projectID, "engine": "browser"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReportGenerateFromSession(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/v1/sessions", nil)
	sess := decode[sessionBody](t, w)

	w = s.do(t, http.MethodPost, "/v1/reports/generate", gin.H{"session_id": sess.ID, "project_id": s.projectID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestReportEnqueueNotifies(t *testing.T) {
	s := newTestServer(t, nil)
	templateID := createTemplate(t, s, `[]`)

	msgs, closeFn, err := s.hub.Subscribe(context.Background(), notify.ProjectChannel(s.projectID))
	require.NoError(t, err)
	defer closeFn()

	w := s.do(t, http.MethodPost, "/v1/reports/enqueue", gin.H{"template_id": templateID, "project_id": s.projectID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	s.inline.Wait()

	var statuses []string
	for len(statuses) < 2 {
		select {
		case raw := <-msgs:
			var msg notify.Message
			require.NoError(t, json.Unmarshal([]byte(raw), &msg))
			statuses = append(statuses, msg.Status)
			if msg.Status == notify.StatusCompleted {
				assert.Contains(t, msg.DownloadURL, storage.RawURLPrefix)
				assert.Equal(t, "Gedung A.pdf", msg.FileName)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing notifications, got %v", statuses)
		}
	}
	assert.Equal(t, []string{notify.StatusStarted, notify.StatusCompleted}, statuses)
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, s *testServer, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAssets(t *testing.T) {
	s := newTestServer(t, nil)

	w := upload(t, s, "logo.bin", tinyPNG(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	key := decode[map[string]any](t, w)["objectKey"].(string)
	assert.True(t, storage.IsAssetKey(key))
	assert.True(t, strings.HasSuffix(key, ".png"))

	w = s.do(t, http.MethodGet, "/v1/assets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[struct {
		Items []map[string]any `json:"items"`
	}](t, w)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, key, listed.Items[0]["objectKey"])

	w = s.do(t, http.MethodGet, "/v1/assets/base64?key="+key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(decode[map[string]string](t, w)["dataUri"], "data:image/png;base64,"))

	w = s.do(t, http.MethodGet, "/v1/assets/raw?key="+key+"&download=logo.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tinyPNG(t), w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "logo.png")

	w = s.do(t, http.MethodGet, "/v1/assets/raw?key=../etc/passwd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/assets?key="+key, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, "/v1/assets/base64?key="+key, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadAsset_Rejects(t *testing.T) {
	s := newTestServer(t, nil)

	w := upload(t, s, "notes.png", []byte("plain text, not an image"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = upload(t, s, "big.png", bytes.Repeat([]byte{0x89}, 65*1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type denyAfter struct{ n int }

func (d *denyAfter) Allow(context.Context, string) (bool, error) {
	d.n--
	return d.n >= 0, nil
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &denyAfter{n: 1})

	w := upload(t, s, "a.png", tinyPNG(t))
	assert.Equal(t, http.StatusCreated, w.Code)
	w = upload(t, s, "a.png", tinyPNG(t))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWebSocketForwardsNotifications(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?project_id=" + strconv.Itoa(int(s.projectID))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 订阅在升级后异步建立，重复发布直到客户端收到。
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = s.hub.Publish(context.Background(), notify.Message{Kind: notify.KindReport, Status: notify.StatusCompleted, ProjectID: s.projectID})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg notify.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, notify.StatusCompleted, msg.Status)

	w := s.do(t, http.MethodGet, "/v1/ws", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
