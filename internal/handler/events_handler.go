package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/infra/events"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// eventsHandler upgrades to a websocket and streams invalidation events.
// ?resource=payment narrows the stream to one resource.
func eventsHandler(b *events.Broadcaster, allowedOrigins []string, logger *zap.Logger) http.HandlerFunc {
	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns(allowedOrigins)}

	return func(w http.ResponseWriter, r *http.Request) {
		if b == nil {
			writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
			return
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			logger.Warn("events: websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")

		resource := r.URL.Query().Get("resource")
		sub := b.Subscribe(resource)
		defer b.Unsubscribe(sub)

		logger.Info("events: client connected",
			zap.String("resource", resource),
			zap.String("user_id", UserIDFromContext(r.Context())),
			zap.Int("subscribers", b.Subscribers()),
		)

		// Clients never send; CloseRead handles control frames and cancels
		// ctx when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("events: client disconnected", zap.String("resource", resource))
				return
			case evt, ok := <-sub:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				data, err := json.Marshal(evt)
				if err != nil {
					logger.Error("events: marshal failed", zap.Error(err))
					continue
				}
				if err := write(ctx, conn, data); err != nil {
					logger.Debug("events: write failed", zap.Error(err))
					return
				}
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, writeWait)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					logger.Debug("events: ping failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}
