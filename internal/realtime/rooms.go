package realtime

import (
	"hash/fnv"
	"sync"
)

const defaultRoomShards = 32

type roomShard struct {
	mu          sync.RWMutex
	subscribers map[string]map[ConnID]struct{}
}

// RoomIndex は接続とルームのライブ購読を保持する。
// ルームIDでシャーディングし、ルーム間の配信がロックを奪い合わないようにする。
// 認可は行わない。購読前の権限確認は呼び出し側の責務。
type RoomIndex struct {
	shards []*roomShard

	connMu sync.Mutex
	byConn map[ConnID]map[string]struct{}
}

// NewRoomIndex はshards個のシャードを持つRoomIndexを生成する。
// 0以下の場合はデフォルト値を使用する。
func NewRoomIndex(shards int) *RoomIndex {
	if shards <= 0 {
		shards = defaultRoomShards
	}
	idx := &RoomIndex{
		shards: make([]*roomShard, shards),
		byConn: make(map[ConnID]map[string]struct{}),
	}
	for i := range idx.shards {
		idx.shards[i] = &roomShard{subscribers: make(map[string]map[ConnID]struct{})}
	}
	return idx
}

func (x *RoomIndex) shardFor(roomID string) *roomShard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return x.shards[h.Sum32()%uint32(len(x.shards))]
}

// Subscribe は接続をルームの購読者に追加する。新規に追加された場合trueを返す。
func (x *RoomIndex) Subscribe(id ConnID, roomID string) bool {
	s := x.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.subscribers[roomID]
	if !ok {
		subs = make(map[ConnID]struct{})
		s.subscribers[roomID] = subs
	}
	if _, exists := subs[id]; exists {
		return false
	}
	subs[id] = struct{}{}

	x.connMu.Lock()
	rooms, ok := x.byConn[id]
	if !ok {
		rooms = make(map[string]struct{})
		x.byConn[id] = rooms
	}
	rooms[roomID] = struct{}{}
	x.connMu.Unlock()

	return true
}

// Unsubscribe は接続をルームの購読者から取り除く。取り除いた場合trueを返す。
func (x *RoomIndex) Unsubscribe(id ConnID, roomID string) bool {
	s := x.shardFor(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, ok := s.subscribers[roomID]
	if !ok {
		return false
	}
	if _, exists := subs[id]; !exists {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(s.subscribers, roomID)
	}

	x.connMu.Lock()
	if rooms, ok := x.byConn[id]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(x.byConn, id)
		}
	}
	x.connMu.Unlock()

	return true
}

// UnsubscribeAll は接続の全購読を取り除き、購読していたルームIDを返す。
func (x *RoomIndex) UnsubscribeAll(id ConnID) []string {
	x.connMu.Lock()
	rooms := x.byConn[id]
	delete(x.byConn, id)
	x.connMu.Unlock()

	left := make([]string, 0, len(rooms))
	for roomID := range rooms {
		s := x.shardFor(roomID)
		s.mu.Lock()
		if subs, ok := s.subscribers[roomID]; ok {
			if _, exists := subs[id]; exists {
				delete(subs, id)
				left = append(left, roomID)
			}
			if len(subs) == 0 {
				delete(s.subscribers, roomID)
			}
		}
		s.mu.Unlock()
	}
	return left
}

// SubscribersOf はルームの購読者を返す。購読者がいない場合は空のスライス。
func (x *RoomIndex) SubscribersOf(roomID string) []ConnID {
	s := x.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	subs := s.subscribers[roomID]
	ids := make([]ConnID, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// IsSubscribed は接続がルームを購読しているかを返す。
func (x *RoomIndex) IsSubscribed(id ConnID, roomID string) bool {
	s := x.shardFor(roomID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.subscribers[roomID][id]
	return ok
}
