package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/idejanristic/tierListMaker/domain"
)

const (
	postEventsMaxSize = 64 << 10
	maxEventsPerBatch = 256
)

// Deps are the collaborators the HTTP handlers need. Deduper is optional.
type Deps struct {
	Boards     BoardStore
	Auth       Authenticator
	Deduper    Deduper
	Dispatcher *Dispatcher
	Broker     *Broker
	Logger     *log.Logger
	// Heartbeat is the interval of SSE keep-alive comments.
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	e.GET("/api/board", getBoard(d.Boards, d.Auth))
	// Batched events may be sent gzip-encoded.
	e.POST("/api/events", postEvents(d), middleware.Decompress())
	e.GET("/api/stream", streamBoard(d.Boards, d.Auth, d.Broker, d.Heartbeat))
	e.GET("/healthz", healthz(d.Dispatcher))
}

type postEventsResponse struct {
	Applied         int             `json:"applied"`
	Duplicates      int             `json:"duplicates"`
	IdempotencyKeys []string        `json:"idempotencyKeys"`
	Board           domain.Snapshot `json:"board"`
}

func healthz(dispatcher *Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		if dispatcher == nil || dispatcher.Closed() {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(boards BoardStore, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(authHeader(c))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		board, err := boards.Get(userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, board.Snapshot())
	}
}

func postEvents(d Deps) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newEventBatchMetrics(c.Request().Context(), d.Logger)
		c.SetRequest(c.Request().WithContext(ctx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := d.Auth.UserIDFromAuthHeader(authHeader(c))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		events, decodeErr := decodeEvents(c.Request().Body)
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, decodeErr.Error())
		}
		metrics.SetReceived(len(events))

		keys := make([]string, len(events))
		for i := range events {
			if events[i].IdempotencyKey == "" {
				events[i].IdempotencyKey = uuid.NewString()
			}
			if events[i].Timestamp == 0 {
				events[i].Timestamp = nextTimestamp()
			}
			keys[i] = events[i].IdempotencyKey
		}

		board, boardErr := d.Boards.Get(userID)
		if boardErr != nil {
			metrics.SetErrorStage("board")
			c.Logger().Error(boardErr)
			return c.String(http.StatusInternalServerError, boardErr.Error())
		}

		dedupeStart := time.Now()
		fresh, added, dedupeErr := dedupe(ctx, d.Deduper, userID, events)
		metrics.ObserveDedupe(time.Since(dedupeStart))
		if dedupeErr != nil {
			metrics.SetErrorStage("dedupe")
			c.Logger().Errorf("dedupe failed: %v", dedupeErr)
			return c.String(http.StatusInternalServerError, "failed to record idempotency keys")
		}
		duplicates := len(events) - len(fresh)
		metrics.SetDuplicates(duplicates)

		dispatchStart := time.Now()
		res, submitErr := d.Dispatcher.Submit(ctx, userID, board, fresh)
		metrics.ObserveDispatch(time.Since(dispatchStart))
		if submitErr != nil {
			if !errors.Is(submitErr, context.Canceled) && !errors.Is(submitErr, context.DeadlineExceeded) {
				rollback(d.Deduper, userID, added, d.Logger)
			}
			metrics.SetErrorStage("dispatch")
			if errors.Is(submitErr, ErrSaturated) || errors.Is(submitErr, ErrDispatcherClosed) {
				return c.String(http.StatusServiceUnavailable, submitErr.Error())
			}
			return c.String(http.StatusInternalServerError, submitErr.Error())
		}
		metrics.SetResult(res.Applied, res.State.Version)

		return c.JSON(http.StatusOK, postEventsResponse{
			Applied:         res.Applied,
			Duplicates:      duplicates,
			IdempotencyKeys: keys,
			Board:           domain.NewSnapshot(board.Registry(), res.State),
		})
	}
}

func decodeEvents(body io.Reader) ([]domain.Event, error) {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, postEventsMaxSize))
	dec.DisallowUnknownFields()

	events := make([]domain.Event, 0, 4)
	if err := dec.Decode(&events); err != nil {
		return nil, errors.New("invalid body")
	}
	if len(events) > maxEventsPerBatch {
		return nil, fmt.Errorf("too many events: %d > %d", len(events), maxEventsPerBatch)
	}
	for i, ev := range events {
		if !domain.KnownEventType(ev.Type) {
			return nil, fmt.Errorf("event %d: unknown type %q", i, ev.Type)
		}
	}
	return events, nil
}

// dedupe drops events whose idempotency key repeats an earlier event of the
// same batch or was already recorded by deduper, and returns the remaining
// events with the keys that were newly recorded.
func dedupe(ctx context.Context, deduper Deduper, userID string, events []domain.Event) ([]domain.Event, []string, error) {
	seen := make(map[string]struct{}, len(events))
	unique := make([]domain.Event, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.IdempotencyKey]; dup {
			continue
		}
		seen[ev.IdempotencyKey] = struct{}{}
		unique = append(unique, ev)
	}
	if deduper == nil || len(unique) == 0 {
		return unique, nil, nil
	}

	keys := make([]string, len(unique))
	for i, ev := range unique {
		keys[i] = ev.IdempotencyKey
	}
	results, err := deduper.AddMany(ctx, userID, keys)
	var added []string
	for i, ok := range results {
		if ok {
			added = append(added, keys[i])
		}
	}
	if err != nil {
		rollback(deduper, userID, added, nil)
		return nil, nil, err
	}
	if len(results) != len(unique) {
		rollback(deduper, userID, added, nil)
		return nil, nil, fmt.Errorf("deduper returned %d results for %d keys", len(results), len(unique))
	}
	fresh := unique[:0]
	for i, ev := range unique {
		if results[i] {
			fresh = append(fresh, ev)
		}
	}
	return fresh, added, nil
}

func rollback(deduper Deduper, userID string, keys []string, logger *log.Logger) {
	if deduper == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, k := range keys {
		if err := deduper.Remove(ctx, userID, k); err != nil && logger != nil {
			logger.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", err, k, userID)
		}
	}
}
