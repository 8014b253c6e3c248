package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"excelanalyst/internal/models"
	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
	"excelanalyst/internal/workspace"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type mockSession struct {
	reply *ai.Reply
	err   error
}

func (m *mockSession) Send(context.Context, string) (*ai.Reply, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func (m *mockSession) Close() error { return nil }

type mockInitializer struct {
	session *mockSession
	err     error
}

func (m *mockInitializer) Initialize(context.Context, ai.Dataset) (ai.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.session, nil
}

func newTestServer(t *testing.T, initer *mockInitializer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ws := workspace.New(workspace.Options{
		Parser:      sheet.NewParser(1<<20, nil),
		Initializer: initer,
		Locale:      "en",
	})
	router := gin.New()
	NewHandler(ws, 1<<20, nil).RegisterRoutes(router)
	return router
}

func uploadFile(t *testing.T, router *gin.Engine, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHandlersEndToEndFlow(t *testing.T) {
	initer := &mockInitializer{session: &mockSession{reply: &ai.Reply{
		Text:   "**B** has the highest revenue.",
		Images: []models.Image{{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(pngBytes)}},
	}}}
	router := newTestServer(t, initer)

	rec := doJSONRequest(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = uploadFile(t, router, "cities.csv", []byte("City,Revenue\nA,100\nB,250\n"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var st stateView
	decodeJSON(t, rec, &st)
	assert.Equal(t, workspace.Ready, st.State)
	assert.Equal(t, 2, st.RowCount)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "markdown", st.Messages[0].Format)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "Which city earns most?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var turn struct {
		User      messageView `json:"user_message"`
		Assistant messageView `json:"assistant_message"`
	}
	decodeJSON(t, rec, &turn)
	assert.Equal(t, "text", turn.User.Format)
	assert.Equal(t, "Which city earns most?", turn.User.Content)
	require.Len(t, turn.Assistant.Images, 1)

	rec = doJSONRequest(t, router, http.MethodGet, turn.Assistant.Images[0].URL, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rec.Body.Bytes())

	rec = doJSONRequest(t, router, http.MethodGet, "/api/messages/"+turn.User.ID+"/images/0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSONRequest(t, router, http.MethodGet, "/api/state", nil)
	decodeJSON(t, rec, &st)
	assert.Len(t, st.Messages, 3)
	assert.False(t, st.Pending)

	rec = doJSONRequest(t, router, http.MethodGet, "/api/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pv sheet.Preview
	decodeJSON(t, rec, &pv)
	assert.Equal(t, []string{"City", "Revenue"}, pv.Headers)
	assert.Equal(t, [][]string{{"A", "100"}, {"B", "250"}}, pv.Rows)

	rec = doJSONRequest(t, router, http.MethodGet, "/api/preview?format=msgpack&rows=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))
	var packed sheet.Preview
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	assert.Len(t, packed.Rows, 1)
	assert.Equal(t, 2, packed.TotalRows)

	rec = uploadFile(t, router, "again.csv", []byte("a\n1\n"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSONRequest(t, router, http.MethodPost, "/api/reset", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSONRequest(t, router, http.MethodGet, "/api/state", nil)
	decodeJSON(t, rec, &st)
	assert.Equal(t, workspace.Idle, st.State)
	assert.Empty(t, st.Messages)
}

func TestUploadFailures(t *testing.T) {
	router := newTestServer(t, &mockInitializer{session: &mockSession{}})

	rec := uploadFile(t, router, "empty.csv", []byte("City,Revenue\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error string    `json:"error"`
		State stateView `json:"state"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "The file contains no data to analyse.", body.Error)
	assert.Equal(t, workspace.Idle, body.State.State)
	assert.Empty(t, body.State.Messages)

	rec = uploadFile(t, router, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = uploadFile(t, router, "big.csv", bytes.Repeat([]byte("a,b\n"), 300_000))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadInitFailure(t *testing.T) {
	router := newTestServer(t, &mockInitializer{err: errors.New("no quota")})
	rec := uploadFile(t, router, "cities.csv", []byte("City\nA\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "AI session")
}

func TestSendMessageStatuses(t *testing.T) {
	sess := &mockSession{reply: &ai.Reply{Text: "ok"}}
	router := newTestServer(t, &mockInitializer{session: sess})

	rec := doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusConflict, rec.Code, "no dataset yet")

	require.Equal(t, http.StatusCreated, uploadFile(t, router, "c.csv", []byte("City\nA\n")).Code)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sess.err = &ai.SendError{Reason: ai.ReasonRemote, Err: errors.New("500")}
	rec = doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_message")

	sess.err = &ai.SendError{Reason: ai.ReasonTimeout, Err: context.DeadlineExceeded}
	rec = doJSONRequest(t, router, http.MethodPost, "/api/messages", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	var st stateView
	decodeJSON(t, doJSONRequest(t, router, http.MethodGet, "/api/state", nil), &st)
	assert.Len(t, st.Messages, 3, "welcome plus two unanswered user messages")
}

func TestSendErrorStatus(t *testing.T) {
	cases := map[error]int{
		workspace.ErrEmptyMessage: http.StatusBadRequest,
		workspace.ErrNotReady:     http.StatusConflict,
		workspace.ErrTurnPending:  http.StatusConflict,
		workspace.ErrStaleReply:   http.StatusGone,
		errors.New("boom"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := sendErrorStatus(err)
		assert.Equal(t, want, got, err.Error())
	}
}

func TestPreviewAndImagesWithoutDataset(t *testing.T) {
	router := newTestServer(t, &mockInitializer{session: &mockSession{}})
	assert.Equal(t, http.StatusConflict, doJSONRequest(t, router, http.MethodGet, "/api/preview", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSONRequest(t, router, http.MethodGet, "/api/messages/x/images/0", nil).Code)
}
