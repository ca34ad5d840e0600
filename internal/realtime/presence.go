package realtime

import "sync"

// PresenceTracker はユーザーごとの認証済み接続数を参照カウントで管理する。
// 増減と判定を同じロックの下で行うため、切断と別接続の認証が競合しても
// 誤ってオフラインと判定しない。
type PresenceTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewPresenceTracker は空のPresenceTrackerを生成する。
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{counts: make(map[string]int)}
}

// MarkOnline は接続数を1増やす。0から1になった場合trueを返す。
func (p *PresenceTracker) MarkOnline(identity Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[identity.UserID]++
	return p.counts[identity.UserID] == 1
}

// MarkOfflineIfLast は接続数を1減らす。最後の接続だった場合trueを返す。
func (p *PresenceTracker) MarkOfflineIfLast(identity Identity) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.counts[identity.UserID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.counts, identity.UserID)
		return true
	}
	p.counts[identity.UserID] = n - 1
	return false
}

// IsOnline はユーザーに1つ以上の認証済み接続があるかを返す。
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

// Online はオンラインのユーザー数を返す。
func (p *PresenceTracker) Online() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.counts)
}
