package realtime

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/chatroom/internal/metrics"
)

const defaultSendBuffer = 64

// outbox は1接続分の送信キュー。
type outbox struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// push はブロックせずにイベントを積む。キューが満杯の場合はfullを返す。
func (o *outbox) push(ev Event) (sent, full bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false, false
	}
	select {
	case o.ch <- ev:
		return true, false
	default:
		return false, true
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// Hub は接続ごとの有界な送信キューを管理する。
// キューはFIFOで、積まれた順に書き込みgoroutineが取り出す。
// キューが溢れた接続はキューを閉じて切り離す。書き込み側はチャネルのクローズを
// 検知してトランスポートを閉じ、通常の切断処理が走る。
type Hub struct {
	mu      sync.RWMutex
	queues  map[ConnID]*outbox
	size    int
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewHub は接続ごとにsize件のバッファを持つHubを生成する。
func NewHub(size int, mc metrics.MetricsCollector, logger *slog.Logger) *Hub {
	if size <= 0 {
		size = defaultSendBuffer
	}
	if mc == nil {
		mc = metrics.NewNopCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		queues:  make(map[ConnID]*outbox),
		size:    size,
		metrics: mc,
		logger:  logger,
	}
}

// Open は接続の送信キューを作成し、受信側チャネルを返す。
func (h *Hub) Open(id ConnID) <-chan Event {
	o := &outbox{ch: make(chan Event, h.size)}
	h.mu.Lock()
	h.queues[id] = o
	h.mu.Unlock()
	return o.ch
}

// Close は接続の送信キューを閉じて取り除く。
func (h *Hub) Close(id ConnID) {
	h.mu.Lock()
	o, ok := h.queues[id]
	delete(h.queues, id)
	h.mu.Unlock()

	if ok {
		o.close()
	}
}

// CloseAll は全接続の送信キューを閉じる。シャットダウン時に使用する。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	queues := h.queues
	h.queues = make(map[ConnID]*outbox)
	h.mu.Unlock()

	for _, o := range queues {
		o.close()
	}
}

// Deliver はイベントを各接続のキューに積み、積めた件数を返す。
// 既に閉じられた接続宛てのイベントは破棄する。
func (h *Hub) Deliver(deliveries []Delivery) int {
	sent := 0
	for _, d := range deliveries {
		h.mu.RLock()
		o, ok := h.queues[d.Conn]
		h.mu.RUnlock()
		if !ok {
			continue
		}

		ok, full := o.push(d.Event)
		if ok {
			sent++
			continue
		}
		if full {
			h.evict(d.Conn, o)
		}
	}
	if sent > 0 {
		h.metrics.RecordDeliveries(sent)
	}
	return sent
}

func (h *Hub) evict(id ConnID, o *outbox) {
	h.mu.Lock()
	if cur, ok := h.queues[id]; ok && cur == o {
		delete(h.queues, id)
	}
	h.mu.Unlock()

	o.close()
	h.metrics.RecordEviction()
	h.logger.Warn("send queue overflow, evicting connection",
		slog.Uint64("conn_id", uint64(id)),
		slog.Int("buffer", h.size),
	)
}

// Len は送信キューを持つ接続数を返す。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.queues)
}
