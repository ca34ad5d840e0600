// Package ws はWebSocketトランスポートを提供する。
//
// 1接続につき読み取りと書き込みの2つのgoroutineを使う。読み取り側は受信フレームを
// realtime.Routerに渡し、書き込み側は接続ごとの送信キューをソケットに書き出す。
// どちらかが終了するとソケットを閉じ、もう一方も終了する。切断処理
// (Router.Disconnect)は読み取り側の終了時に必ず1回呼び出す。
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/chatroom/internal/metrics"
	"github.com/hitoshi/chatroom/internal/realtime"
)

const (
	writeWait = 10 * time.Second

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
)

// Config はWebSocket接続の設定。
type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	AllowedOrigin  string // "*" の場合は全てのOriginを許可する
}

// Handler はHTTPリクエストをWebSocketにアップグレードし、Routerに接続する。
type Handler struct {
	router   *realtime.Router
	upgrader websocket.Upgrader
	config   Config
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewHandler はHandlerを生成する。
func NewHandler(router *realtime.Router, config Config, mc metrics.MetricsCollector, logger *slog.Logger) *Handler {
	if mc == nil {
		mc = metrics.NewNopCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = defaultPongTimeout
	}
	h := &Handler{
		router:  router,
		config:  config,
		metrics: mc,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.config.AllowedOrigin == "*" {
		return true
	}
	return origin == h.config.AllowedOrigin
}

// ServeHTTP は接続をアップグレードし、切断されるまでブロックする。
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgraderがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	id, events := h.router.Connect()
	h.metrics.ConnectionOpened()
	h.logger.Debug("websocket connected",
		slog.Uint64("conn_id", uint64(id)),
		slog.String("remote_addr", r.RemoteAddr),
	)

	done := make(chan struct{})
	go h.writePump(conn, id, events, done)

	h.readPump(conn, id)

	// 読み取り終了後の切断処理で送信キューが閉じられ、書き込み側も終了する
	ctx := context.WithoutCancel(r.Context())
	h.router.Disconnect(ctx, id)
	<-done
	h.metrics.ConnectionClosed()
	h.logger.Debug("websocket disconnected", slog.Uint64("conn_id", uint64(id)))
}

func (h *Handler) readPump(conn *websocket.Conn, id realtime.ConnID) {
	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Info("websocket closed unexpectedly",
					slog.Uint64("conn_id", uint64(id)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		h.dispatch(id, data)
	}
}

// dispatch は1フレームを処理する。ハンドラーでpanicが起きても共有状態と他の接続は保護する。
func (h *Handler) dispatch(id realtime.ConnID, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic recovered while handling event",
				slog.Any("panic", rec),
				slog.Uint64("conn_id", uint64(id)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var in realtime.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		h.router.RejectMalformed(id)
		return
	}
	h.router.Handle(context.Background(), id, in)
}

func (h *Handler) writePump(conn *websocket.Conn, id realtime.ConnID, events <-chan realtime.Event, done chan<- struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
		close(done)
	}()

	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 切断処理またはキュー溢れによりキューが閉じられた
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed",
					slog.Uint64("conn_id", uint64(id)),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close は全接続の送信キューを閉じ、全接続の切断処理が終わるまで待つ。
// ctxが先に終了した場合はctxのエラーを返す。
func (h *Handler) Close(ctx context.Context) error {
	h.router.Shutdown()

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
