package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rcp-ptz/internal/control"
	"rcp-ptz/internal/protocol"
	"rcp-ptz/internal/ptz"
	"rcp-ptz/internal/rcp"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeCamera struct {
	mu      sync.Mutex
	moves   []ptz.Command
	ctxErrs []error
	err     error
}

func (f *fakeCamera) Move(ctx context.Context, cmd ptz.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, cmd)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.err
}

func (f *fakeCamera) Close() error { return nil }

func (f *fakeCamera) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

var testPage = fstest.MapFS{
	"index.html": &fstest.MapFile{Data: []byte("<html>joystick</html>")},
}

func newTestServer(t *testing.T, contextPath string) (*Server, *control.Service, *fakeCamera) {
	t.Helper()
	return newTestServerWithDelay(t, contextPath, time.Minute)
}

func newTestServerWithDelay(t *testing.T, contextPath string, delay time.Duration) (*Server, *control.Service, *fakeCamera) {
	t.Helper()
	cam := &fakeCamera{}
	svc, err := control.NewService(control.Config{AutoReleaseDelay: delay}, []control.Camera{
		{ID: "Cam1", Controller: cam},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	return New(Config{Listen: "127.0.0.1:0", ContextPath: contextPath}, svc, nil, testPage), svc, cam
}

func get(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestMoveLifecycle(t *testing.T) {
	s, _, cam := newTestServer(t, "/")

	rec, body := get(t, s, "/cams/Cam1/ptz/move?left=3&up=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(200), body["status"])
	assert.Equal(t, control.MsgMoveApplied, body["message"])
	token, _ := body["lock_token"].(string)
	require.Len(t, token, 32)

	rec, body = get(t, s, "/cams/Cam1/ptz/move?right=1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PTZ is already in use", body["message"])
	assert.NotContains(t, body, "lock_token")

	rec, body = get(t, s, "/cams/Cam1/ptz/move?zin=4&lock_token="+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, token, body["lock_token"])

	rec, body = get(t, s, "/cams/Cam1/ptz/move?stop=true&lock_token="+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, control.MsgMoveStopped, body["message"])
	assert.NotContains(t, body, "lock_token")

	rec, _ = get(t, s, "/cams/Cam1/ptz/move?right=1")
	assert.Equal(t, http.StatusOK, rec.Code)

	cam.mu.Lock()
	defer cam.mu.Unlock()
	require.Len(t, cam.moves, 4)
	assert.Equal(t, ptz.Command{Left: 3, Up: 2}, cam.moves[0])
	assert.True(t, cam.moves[2].Stop)
}

func TestMoveErrors(t *testing.T) {
	s, _, cam := newTestServer(t, "/")

	tests := []struct {
		name    string
		target  string
		status  int
		message string
	}{
		{"out of range", "/cams/Cam1/ptz/move?left=8", 400, "PTZ speed (left axis) must be between 0 and 7 (int)"},
		{"not a number", "/cams/Cam1/ptz/move?up=-1", 400, "PTZ speed (up axis) must be between 0 and 7 (int)"},
		{"exclusive axis", "/cams/Cam1/ptz/move?left=1&right=1", 400, "left and right move are exclusive"},
		{"stop with speed", "/cams/Cam1/ptz/move?stop=true&zin=1", 400, "All axis must be 0 when stop=True"},
		{"bad stop", "/cams/Cam1/ptz/move?stop=maybe", 400, "Stop must be either True or False"},
		{"unknown camera", "/cams/Cam9/ptz/move?left=1", 404, "Unknown camera Cam9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, s, tt.target)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, float64(tt.status), body["status"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
	assert.Empty(t, cam.moves)
}

func TestMoveDeviceFailureKeepsToken(t *testing.T) {
	s, svc, cam := newTestServer(t, "/")
	cam.setErr(rcp.Classify(http.StatusServiceUnavailable, "maintenance"))

	rec, body := get(t, s, "/cams/Cam1/ptz/move?down=5")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "503 Service Unavailable: maintenance", body["message"])
	token, _ := body["lock_token"].(string)
	assert.Len(t, token, 32)

	status, err := svc.Lock("Cam1")
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestMoveSurvivesCallerGoingAway(t *testing.T) {
	s, svc, cam := newTestServer(t, "/")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/cams/Cam1/ptz/move?left=2", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	cam.mu.Lock()
	require.Len(t, cam.ctxErrs, 1)
	assert.NoError(t, cam.ctxErrs[0])
	cam.mu.Unlock()

	status, err := svc.Lock("Cam1")
	require.NoError(t, err)
	assert.True(t, status.Locked)
}

func TestLockEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, "/")

	rec, body := get(t, s, "/cams/Cam1/ptz/lock")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["locked"])
	assert.Equal(t, control.MsgFree, body["message"])

	get(t, s, "/cams/Cam1/ptz/move?left=1")

	_, body = get(t, s, "/cams/Cam1/ptz/lock")
	assert.Equal(t, true, body["locked"])
	assert.Equal(t, control.MsgLocked, body["message"])

	rec, _ = get(t, s, "/cams/nope/ptz/lock")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContextPath(t *testing.T) {
	s, _, _ := newTestServer(t, "/ptz/")

	rec, _ := get(t, s, "/ptz/cams/Cam1/ptz/move?left=1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := get(t, s, "/cams/Cam1/ptz/move?left=1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body["message"])

	rec, _ = get(t, s, "/ptz/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/ptz/interfaces/ptz/move", rec.Header().Get("Location"))
}

func TestStaticAndHealth(t *testing.T) {
	s, _, _ := newTestServer(t, "/")

	rec, _ := get(t, s, "/interfaces/ptz/move")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "joystick")

	rec, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = get(t, s, "/cams")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Cam1"}, body["cameras"])
}

func TestRecoveryReturnsJSON(t *testing.T) {
	s, _, _ := newTestServer(t, "/")
	s.engine.GET("/boom", func(*gin.Context) { panic("boom") })

	rec, body := get(t, s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", body["message"])
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketMoveReleasesOnClose(t *testing.T) {
	s, svc, _ := newTestServer(t, "/")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/cams/Cam1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeStatus, msg.Type)
	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, protocol.StatusPayload{Camera: "Cam1"}, status)

	move, err := protocol.NewMessage(protocol.TypePTZMove, protocol.PTZMovePayload{Left: 2, ZoomIn: 1})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(move))

	msg = readMessage(t, conn)
	require.Equal(t, protocol.TypePTZResult, msg.Type)
	var result protocol.PTZResultPayload
	require.NoError(t, msg.ParsePayload(&result))
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Len(t, result.LockToken, 32)

	lock, err := svc.Lock("Cam1")
	require.NoError(t, err)
	assert.True(t, lock.Locked)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		lock, err := svc.Lock("Cam1")
		return err == nil && !lock.Locked
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketStatusOnExpiry(t *testing.T) {
	s, _, _ := newTestServerWithDelay(t, "/", 50*time.Millisecond)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/cams/Cam1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage(t, conn) // initial status

	rec, _ := get(t, s, "/cams/Cam1/ptz/move?up=1")
	require.Equal(t, http.StatusOK, rec.Code)

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeStatus, msg.Type)
	var status protocol.StatusPayload
	require.NoError(t, msg.ParsePayload(&status))
	assert.Equal(t, "Cam1", status.Camera)
	assert.False(t, status.Locked)
}

func TestWebSocketPingAndBadMessage(t *testing.T) {
	s, _, _ := newTestServer(t, "/")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/cams/Cam1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readMessage(t, conn) // status

	ping, err := protocol.NewMessage(protocol.TypePing, protocol.PingPayload{Timestamp: 42})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypePong, msg.Type)
	var pong protocol.PongPayload
	require.NoError(t, msg.ParsePayload(&pong))
	assert.Equal(t, int64(42), pong.ClientTimestamp)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readMessage(t, conn)
	require.Equal(t, protocol.TypeError, msg.Type)
	var perr protocol.ErrorPayload
	require.NoError(t, msg.ParsePayload(&perr))
	assert.Equal(t, protocol.ErrInvalidMessage, perr.Code)
}

func TestWebSocketUnknownCamera(t *testing.T) {
	s, _, _ := newTestServer(t, "/")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/cams/Cam9/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartAndShutdown(t *testing.T) {
	s, _, _ := newTestServer(t, "/")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
