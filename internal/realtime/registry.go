// Package realtime はソケット接続の認証状態、ルーム購読、プレゼンスを管理し、
// 受信イベントを検証して送信先ごとのイベントに展開する。
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ConnID は物理接続ごとに払い出される識別子。プロセス内で再利用されない。
type ConnID uint64

var (
	// ErrAlreadyAuthenticated は認証済み接続への再バインドを表す。
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	// ErrUnknownConnection は切断済みまたは未登録の接続IDを表す。
	ErrUnknownConnection = errors.New("unknown connection")
)

// Departure はUnregisterで取り除かれた接続の状態。
type Departure struct {
	Identity *Identity // 未認証の場合nil
	Rooms    []string
	// Present はこの接続がPresenceTrackerに計上済みかどうか。
	// trueの場合のみ切断側が参照カウントを減らす。
	Present bool
}

type connState struct {
	identity *Identity
	present  bool
	rooms    map[string]struct{}
}

// ConnectionRegistry は生存中の接続とバインドされたIdentityを保持する。
type ConnectionRegistry struct {
	next  atomic.Uint64
	mu    sync.RWMutex
	conns map[ConnID]*connState
}

// NewConnectionRegistry は空のConnectionRegistryを生成する。
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[ConnID]*connState)}
}

// Register は未認証の接続を登録し、新しいConnIDを返す。
func (r *ConnectionRegistry) Register() ConnID {
	id := ConnID(r.next.Add(1))
	r.mu.Lock()
	r.conns[id] = &connState{rooms: make(map[string]struct{})}
	r.mu.Unlock()
	return id
}

// Bind は接続にIdentityを結びつける。1接続につき1回だけ成功する。
func (r *ConnectionRegistry) Bind(id ConnID, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if c.identity != nil {
		return ErrAlreadyAuthenticated
	}
	c.identity = &identity
	return nil
}

// IdentityOf は接続にバインドされたIdentityを返す。
func (r *ConnectionRegistry) IdentityOf(id ConnID) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok || c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// MarkPresent は接続がプレゼンスに計上されたことを記録する。
// 接続が既に取り除かれていた場合はfalseを返し、呼び出し側が計上を取り消す。
func (r *ConnectionRegistry) MarkPresent(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.present = true
	return true
}

// Attach は接続のルーム参加を確定として記録する。切断済みの接続にはfalseを返す。
// Unregisterが返すRoomsはAttach済みのルームのみ。
func (r *ConnectionRegistry) Attach(id ConnID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.rooms[roomID] = struct{}{}
	return true
}

// Detach は接続の購読ルームの記録を取り除く。
func (r *ConnectionRegistry) Detach(id ConnID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[id]; ok {
		delete(c.rooms, roomID)
	}
}

// Unregister は接続を取り除き、バインドされていたIdentityと購読ルームを返す。
// 既に取り除かれている場合はfalseを返す。
func (r *ConnectionRegistry) Unregister(id ConnID) (Departure, bool) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return Departure{}, false
	}

	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return Departure{Identity: c.identity, Rooms: rooms, Present: c.present}, true
}

// Connections は生存中の全接続IDを返す。プレゼンスの全体配信に使用する。
func (r *ConnectionRegistry) Connections() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len は生存中の接続数を返す。
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
