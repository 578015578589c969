package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/idejanristic/tierListMaker/domain"
)

const (
	sseDataPrefix       = "data: "
	sseKeepAlive        = ":keepalive\n\n"
	defaultSSEHeartbeat = 30 * time.Second
)

// Broker wakes up the stream handlers of a user after a commit. Wake-ups
// are coalesced: a slow client skips intermediate versions and reads the
// latest committed snapshot.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *Broker) subscribe(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan struct{}]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	return ch
}

func (b *Broker) unsubscribe(userID string, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[userID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subs, userID)
		}
	}
}

// Notify signals every subscriber of userID without blocking.
func (b *Broker) Notify(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func streamBoard(boards BoardStore, auth Authenticator, broker *Broker, heartbeat time.Duration) echo.HandlerFunc {
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
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)

		ch := broker.subscribe(userID)
		defer broker.unsubscribe(userID, ch)
		if heartbeat <= 0 {
			heartbeat = defaultSSEHeartbeat
		}
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request().Context()

		// The board is looked up again after every wake-up: an idle board may
		// have been evicted and replaced since the last frame.
		var (
			sent      uint64
			sentBoard *domain.Board
		)
		for {
			snap := board.Snapshot()
			if board != sentBoard || snap.Version != sent {
				if err := writeSnapshot(c, flusher, snap); err != nil {
					if errors.Is(err, errStreamEncode) {
						c.Logger().Error(err)
						return err
					}
					return nil
				}
				sent, sentBoard = snap.Version, board
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(sseKeepAlive)); err != nil {
					return nil
				}
				flusher.Flush()
			}
			if board, err = boards.Get(userID); err != nil {
				c.Logger().Error(err)
				return nil
			}
		}
	}
}

var errStreamEncode = errors.New("encode snapshot")

func writeSnapshot(c echo.Context, flusher http.Flusher, snap domain.Snapshot) error {
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: %v", errStreamEncode, err)
	}
	w := c.Response()
	if _, err := w.Write([]byte(sseDataPrefix)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
