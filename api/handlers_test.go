package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/idejanristic/tierListMaker/domain"
)

type fakeBoards struct {
	mu     sync.Mutex
	t      *testing.T
	boards map[string]*domain.Board
	err    error
}

func (f *fakeBoards) Get(userID string) (*domain.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.boards[userID]; ok {
		return b, nil
	}
	b := newTestBoard(f.t)
	f.boards[userID] = b
	return b, nil
}

type testServer struct {
	e          *echo.Echo
	boards     *fakeBoards
	dispatcher *Dispatcher
}

func newTestServer(t *testing.T, auth Authenticator, deduper Deduper) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	boards := &fakeBoards{t: t, boards: map[string]*domain.Board{}}
	broker := NewBroker()
	dispatcher := NewDispatcher(2, 8, 50*time.Millisecond, logger, func(userID string, _ *domain.Board, _ domain.State) {
		broker.Notify(userID)
	})
	t.Cleanup(dispatcher.Close)
	e := echo.New()
	Register(e, Deps{
		Boards:     boards,
		Auth:       auth,
		Deduper:    deduper,
		Dispatcher: dispatcher,
		Broker:     broker,
		Logger:     logger,
	})
	return &testServer{e: e, boards: boards, dispatcher: dispatcher}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decodeEventsResponse(t *testing.T, rec *httptest.ResponseRecorder) postEventsResponse {
	t.Helper()
	var resp postEventsResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func bucketIDs(snap domain.Snapshot, bucket string) []string {
	for _, b := range snap.Buckets {
		if b.ID != bucket {
			continue
		}
		ids := make([]string, 0, len(b.Items))
		for _, it := range b.Items {
			ids = append(ids, it.ID)
		}
		return ids
	}
	return nil
}

func TestGetBoardReturnsSnapshot(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)

	rec := s.do(http.MethodGet, "/api/board", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.Snapshot
	if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != 1 || len(snap.Buckets) != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if got := bucketIDs(snap, "free"); strings.Join(got, ",") != "i1,i2,i3" {
		t.Fatalf("unexpected free bucket %v", got)
	}
}

func TestPostEventsAppliesGesture(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	body := `[
		{"type":"drag-start","itemId":"i1"},
		{"type":"drag-over","itemId":"i1","targetId":"S"},
		{"type":"drag-over","itemId":"i1","targetId":"i1"},
		{"type":"drag-end"}
	]`

	rec := s.do(http.MethodPost, "/api/events", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEventsResponse(t, rec)
	if resp.Applied != 3 || resp.Duplicates != 0 || len(resp.IdempotencyKeys) != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := bucketIDs(resp.Board, "S"); len(got) != 1 || got[0] != "i1" {
		t.Fatalf("unexpected S bucket %v", got)
	}
	if resp.Board.Active != nil {
		t.Fatalf("expected drag to have ended")
	}
	board, _ := s.boards.Get(LocalUserID)
	if board.State().Version != resp.Board.Version {
		t.Fatalf("response version %d does not match board %d", resp.Board.Version, board.State().Version)
	}
}

func TestPostEventsSkipsDuplicateKeys(t *testing.T) {
	_, rc := setupRedis(t)
	s := newTestServer(t, NoAuth{}, NewRedisDeduper(rc, time.Minute))
	body := `[
		{"idempotencyKey":"k1","type":"drag-start","itemId":"i3"},
		{"idempotencyKey":"k2","type":"drag-over","targetId":"i1"}
	]`

	first := decodeEventsResponse(t, s.do(http.MethodPost, "/api/events", body, nil))
	if first.Applied != 2 {
		t.Fatalf("expected 2 applied events, got %+v", first)
	}
	if got := bucketIDs(first.Board, "free"); strings.Join(got, ",") != "i3,i1,i2" {
		t.Fatalf("unexpected free bucket %v", got)
	}

	second := decodeEventsResponse(t, s.do(http.MethodPost, "/api/events", body, nil))
	if second.Applied != 0 || second.Duplicates != 2 {
		t.Fatalf("expected retried batch to be skipped, got %+v", second)
	}
	if second.Board.Version != first.Board.Version {
		t.Fatalf("expected board to stay at version %d, got %d", first.Board.Version, second.Board.Version)
	}
}

func TestPostEventsAcceptsGzipBody(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`[{"type":"drag-start","itemId":"i2"},{"type":"drag-over","targetId":"S"}]`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	rec := s.do(http.MethodPost, "/api/events", buf.String(), map[string]string{echo.HeaderContentEncoding: "gzip"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := bucketIDs(decodeEventsResponse(t, rec).Board, "S"); len(got) != 1 || got[0] != "i2" {
		t.Fatalf("unexpected S bucket %v", got)
	}
}

func TestPostEventsAppliesRepeatedKeyOnceWithoutRedis(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	body := `[
		{"idempotencyKey":"k","type":"drag-start","itemId":"i1"},
		{"idempotencyKey":"k2","type":"drag-over","itemId":"i1","targetId":"i2"},
		{"idempotencyKey":"k2","type":"drag-over","itemId":"i1","targetId":"i2"}
	]`

	rec := s.do(http.MethodPost, "/api/events", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEventsResponse(t, rec)
	if resp.Applied != 2 || resp.Duplicates != 1 {
		t.Fatalf("expected the repeated key to be skipped, got %+v", resp)
	}
	if got := bucketIDs(resp.Board, "free"); strings.Join(got, ",") != "i2,i1,i3" {
		t.Fatalf("unexpected free bucket %v", got)
	}
}

func TestPostEventsRejectsBadInput(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "drag"},
		{name: "object instead of array", body: `{"type":"drag-end"}`},
		{name: "unknown field", body: `[{"type":"drag-end","force":true}]`},
		{name: "unknown type", body: `[{"type":"drop"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/events", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
	board, _ := s.boards.Get(LocalUserID)
	if board.State().Version != 1 {
		t.Fatalf("expected rejected batches to leave the board untouched")
	}
}

func TestPostEventsRequiresAuth(t *testing.T) {
	s := newTestServer(t, NewSharedSecretAuth([]byte("secret")), nil)

	rec := s.do(http.MethodPost, "/api/events", `[{"type":"drag-end"}]`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = s.do(http.MethodGet, "/api/board", "", map[string]string{echo.HeaderAuthorization: "Bearer a.b.c"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a forged token, got %d", rec.Code)
	}
}

func TestPostEventsKeepsBoardsPerUser(t *testing.T) {
	secret := []byte("secret")
	s := newTestServer(t, NewSharedSecretAuth(secret), nil)
	bearer := func(sub string) map[string]string {
		token := signHS256(t, secret, jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
		return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
	}

	rec := s.do(http.MethodPost, "/api/events", `[{"type":"drag-start","itemId":"i2"},{"type":"drag-over","targetId":"A"}]`, bearer("alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := bucketIDs(decodeEventsResponse(t, rec).Board, "A"); len(got) != 1 || got[0] != "i2" {
		t.Fatalf("unexpected A bucket for alice %v", got)
	}

	rec = s.do(http.MethodGet, "/api/board", "", bearer("bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap domain.Snapshot
	if err := sonic.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != 1 || len(bucketIDs(snap, "A")) != 0 {
		t.Fatalf("bob should see an untouched board, got %+v", snap)
	}
}

func TestPostEventsBoardFailure(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	s.boards.err = errors.New("catalog gone")

	rec := s.do(http.MethodPost, "/api/events", `[{"type":"drag-end"}]`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPostEventsAfterShutdown(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	s.dispatcher.Close()

	rec := s.do(http.MethodPost, "/api/events", `[{"type":"drag-end"}]`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy after shutdown, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, NoAuth{}, nil)
	if rec := s.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
