package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/chatroom/internal/metrics"
	"github.com/hitoshi/chatroom/internal/model"
)

const (
	defaultMaxMessageLength = 1000
	defaultEventTimeout     = 10 * time.Second

	connectedMessage = "Connected to chat server"
)

// RouterConfig はイベント処理の上限値。
type RouterConfig struct {
	MaxMessageLength int           // 文字数
	EventTimeout     time.Duration // 1イベントあたりの永続化層呼び出しの上限
}

// RouterDeps はRouterが利用する共有状態と外部コラボレーター。
// Limiter, Metrics, Loggerはnilでもよい。
type RouterDeps struct {
	Registry *ConnectionRegistry
	Rooms    *RoomIndex
	Presence *PresenceTracker
	Hub      *Hub
	Verifier Verifier
	Store    Store
	Limiter  MessageLimiter
	Metrics  metrics.MetricsCollector
	Logger   *slog.Logger
}

// reply は1イベントの処理結果。
type reply struct {
	deliveries []Delivery
	outcome    string
	delivered  bool // ハンドラー内で送信キューに積み済み
}

type handlerFunc func(ctx context.Context, id ConnID, identity Identity, data json.RawMessage) reply

// Router は受信イベントを検証し、共有状態を更新して送信先ごとのイベントに展開する。
// 全ての操作は複数の接続から並行に呼び出してよい。
type Router struct {
	registry *ConnectionRegistry
	rooms    *RoomIndex
	presence *PresenceTracker
	hub      *Hub
	verifier Verifier
	store    Store
	limiter  MessageLimiter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	cfg      RouterConfig

	handlers map[string]handlerFunc

	// ルームごとの永続化から配信までを直列化するロック
	roomLocks sync.Map
	// ユーザーごとのプレゼンス遷移から配信、DB反映までを直列化するロック
	userLocks sync.Map
}

// NewRouter は新しいRouterを生成する。
func NewRouter(deps RouterDeps, cfg RouterConfig) *Router {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	if deps.Registry == nil {
		deps.Registry = NewConnectionRegistry()
	}
	if deps.Rooms == nil {
		deps.Rooms = NewRoomIndex(0)
	}
	if deps.Presence == nil {
		deps.Presence = NewPresenceTracker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNopCollector()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(0, deps.Metrics, deps.Logger)
	}

	r := &Router{
		registry: deps.Registry,
		rooms:    deps.Rooms,
		presence: deps.Presence,
		hub:      deps.Hub,
		verifier: deps.Verifier,
		store:    deps.Store,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		cfg:      cfg,
	}
	r.handlers = map[string]handlerFunc{
		InAuthenticate: r.authenticate,
		InJoinRoom:     r.joinRoom,
		InLeaveRoom:    r.leaveRoom,
		InSendMessage:  r.sendMessage,
		InTyping:       r.typing(OutUserTyping),
		InStopTyping:   r.typing(OutUserStopTyping),
	}
	return r
}

// Connect は新しい接続を登録し、接続IDと送信キューを返す。
// 送信キューには最初にconnectedイベントが積まれる。
func (r *Router) Connect() (ConnID, <-chan Event) {
	id := r.registry.Register()
	ch := r.hub.Open(id)
	r.hub.Deliver([]Delivery{{
		Conn:  id,
		Event: Event{Type: OutConnected, Data: ConnectedData{Message: connectedMessage}},
	}})
	return id, ch
}

// Handle は1件の受信イベントを処理し、生成した配信を送信キューに積んで返す。
// エラーは送信元の接続にのみ返し、共有状態は変更しない。
func (r *Router) Handle(ctx context.Context, id ConnID, in Inbound) []Delivery {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EventTimeout)
	defer cancel()

	label := in.Type
	h, known := r.handlers[in.Type]
	if !known {
		label = "unknown"
	}

	var rep reply
	identity, authed := r.registry.IdentityOf(id)
	switch {
	case in.Type != InAuthenticate && !authed:
		rep = r.reject(id, model.NewAuthenticationRequiredError())
	case !known:
		rep = r.reject(id, model.NewValidationError(fmt.Sprintf("未知のイベントです: %q", in.Type)))
	default:
		rep = h(ctx, id, identity, in.Data)
	}

	if !rep.delivered {
		r.hub.Deliver(rep.deliveries)
	}
	r.metrics.RecordEvent(label, rep.outcome)
	r.metrics.RecordEventLatency(label, time.Since(start))
	return rep.deliveries
}

// Disconnect は接続の終了処理を行う。切断が異常終了でも必ず呼び出す必要がある。
// 購読していたルームの残りの購読者へuser_left_roomを、最後の接続だった場合は
// 全接続へuser_offlineを配信する。既に切断済みの接続に対しては何もしない。
func (r *Router) Disconnect(ctx context.Context, id ConnID) []Delivery {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EventTimeout)
	defer cancel()

	dep, ok := r.registry.Unregister(id)
	left := r.rooms.UnsubscribeAll(id)
	r.hub.Close(id)
	if !ok || dep.Identity == nil {
		return nil
	}
	identity := *dep.Identity

	// 参加が確定したルームだけを通知する。確定前に切断されたルームは
	// user_joined_roomも配信されていない
	joined := make(map[string]struct{}, len(dep.Rooms))
	for _, roomID := range dep.Rooms {
		joined[roomID] = struct{}{}
	}

	var deliveries []Delivery
	for _, roomID := range left {
		if _, ok := joined[roomID]; !ok {
			continue
		}
		deliveries = append(deliveries, r.announceLeft(roomID, identity)...)
	}

	if dep.Present {
		deliveries = append(deliveries, r.markOffline(ctx, identity)...)
	}
	return deliveries
}

// RejectMalformed はデコードできないフレームに対してVALIDATION_ERRORを返す。
func (r *Router) RejectMalformed(id ConnID) []Delivery {
	rep := r.reject(id, model.NewValidationError("イベントのJSONが不正です"))
	r.hub.Deliver(rep.deliveries)
	r.metrics.RecordEvent("malformed", rep.outcome)
	return rep.deliveries
}

// Shutdown は全接続の送信キューを閉じる。書き込み側はトランスポートを閉じて終了する。
func (r *Router) Shutdown() {
	r.hub.CloseAll()
}

func (r *Router) authenticate(ctx context.Context, id ConnID, _ Identity, data json.RawMessage) reply {
	if _, ok := r.registry.IdentityOf(id); ok {
		return r.reject(id, model.NewAlreadyAuthenticatedError())
	}

	var p authenticatePayload
	if err := decode(data, &p); err != nil || strings.TrimSpace(p.Token) == "" {
		r.metrics.RecordAuthFailure()
		return r.authError(id, model.NewInvalidCredentialError("トークンがありません"))
	}

	identity, err := r.verifier.Verify(ctx, strings.TrimSpace(p.Token))
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			r.metrics.RecordAuthFailure()
			return r.authError(id, model.NewInvalidCredentialError("トークンを検証できません"))
		}
		r.logger.Error("failed to verify credential",
			slog.Uint64("conn_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		return r.fail(id)
	}

	if err := r.registry.Bind(id, *identity); err != nil {
		if errors.Is(err, ErrAlreadyAuthenticated) {
			return r.reject(id, model.NewAlreadyAuthenticatedError())
		}
		// 検証中に切断された
		return reply{outcome: metrics.OutcomeRejected}
	}

	deliveries := []Delivery{{
		Conn:  id,
		Event: Event{Type: OutAuthenticated, Data: AuthenticatedData{User: *identity}},
	}}

	lock := r.userLock(identity.UserID)
	lock.Lock()
	defer lock.Unlock()

	online := r.presence.MarkOnline(*identity)
	offline := false
	if !r.registry.MarkPresent(id) {
		// BindとMarkPresentの間に切断され、切断側は計上を減らしていない
		offline = r.presence.MarkOfflineIfLast(*identity)
	}
	switch {
	case online && offline:
		r.hub.Deliver(deliveries)
	case online:
		deliveries = append(deliveries, r.toAll(Event{
			Type: OutUserOnline,
			Data: PresenceData{
				UserID:      identity.UserID,
				Username:    identity.Username,
				DisplayName: identity.DisplayName,
			},
		})...)
		r.hub.Deliver(deliveries)
		r.mirrorPresence(ctx, identity.UserID, true)
	case offline:
		deliveries = append(deliveries, r.toAll(offlineEvent(*identity))...)
		r.hub.Deliver(deliveries)
		r.mirrorPresence(ctx, identity.UserID, false)
	default:
		r.hub.Deliver(deliveries)
	}

	r.logger.Debug("connection authenticated",
		slog.Uint64("conn_id", uint64(id)),
		slog.String("user_id", identity.UserID),
	)
	return reply{deliveries: deliveries, outcome: metrics.OutcomeOK, delivered: true}
}

func (r *Router) joinRoom(ctx context.Context, id ConnID, identity Identity, data json.RawMessage) reply {
	var p joinRoomPayload
	if err := decode(data, &p); err != nil {
		return r.reject(id, model.NewValidationError("join_roomのペイロードが不正です"))
	}

	code := strings.ToUpper(strings.TrimSpace(p.RoomCode))
	roomID := strings.TrimSpace(p.RoomID)

	var room *model.Room
	var err error
	switch {
	case code != "":
		if !ValidJoinCode(code) {
			return r.reject(id, model.NewInvalidRoomCodeError())
		}
		room, err = r.store.ResolveRoomByCode(ctx, code)
		if err != nil {
			return r.storeFailure(id, "resolve room by code", err)
		}
		if room == nil {
			return r.reject(id, model.NewInvalidRoomCodeError())
		}
		if _, err := r.store.AddMember(ctx, room.ID, identity.UserID, model.RoleMember); err != nil {
			return r.storeFailure(id, "add member", err)
		}

	case roomID != "":
		if !validRoomID(roomID) {
			return r.reject(id, model.NewValidationError("room_idの形式が不正です"))
		}
		room, err = r.store.FindRoom(ctx, roomID)
		if err != nil {
			return r.storeFailure(id, "find room", err)
		}
		if room == nil {
			return r.reject(id, model.NewRoomNotFoundError(roomID))
		}
		member, err := r.store.IsMember(ctx, room.ID, identity.UserID)
		if err != nil {
			return r.storeFailure(id, "check membership", err)
		}
		if !member {
			if room.IsPrivate() {
				return r.reject(id, model.NewAccessDeniedError())
			}
			if _, err := r.store.AddMember(ctx, room.ID, identity.UserID, model.RoleMember); err != nil {
				return r.storeFailure(id, "add member", err)
			}
		}

	default:
		return r.reject(id, model.NewValidationError("room_idまたはroom_codeを指定してください"))
	}

	added := r.rooms.Subscribe(id, room.ID)

	// Attachで参加を確定させる。切断側はAttach済みのルームにのみuser_left_roomを配信し、
	// 同じルームロックの下で配信するため、joinedより先にleftが届くことはない
	lock := r.roomLock(room.ID)
	lock.Lock()
	defer lock.Unlock()

	if !r.registry.Attach(id, room.ID) {
		// 参加処理中に切断された
		r.rooms.Unsubscribe(id, room.ID)
		return reply{outcome: metrics.OutcomeRejected}
	}

	deliveries := []Delivery{{
		Conn:  id,
		Event: Event{Type: OutRoomJoined, Data: RoomJoinedData{RoomID: room.ID, RoomName: room.Name}},
	}}
	if added {
		deliveries = append(deliveries, r.toOthers(room.ID, id, Event{
			Type: OutUserJoinedRoom,
			Data: RoomUserData{Identity: identity, RoomID: room.ID},
		})...)
	}
	r.hub.Deliver(deliveries)
	return reply{deliveries: deliveries, outcome: metrics.OutcomeOK, delivered: true}
}

func (r *Router) leaveRoom(_ context.Context, id ConnID, identity Identity, data json.RawMessage) reply {
	var p roomPayload
	if err := decode(data, &p); err != nil || strings.TrimSpace(p.RoomID) == "" {
		return r.reject(id, model.NewValidationError("room_idを指定してください"))
	}
	roomID := strings.TrimSpace(p.RoomID)
	if !validRoomID(roomID) {
		return r.reject(id, model.NewValidationError("room_idの形式が不正です"))
	}

	removed := r.rooms.Unsubscribe(id, roomID)
	r.registry.Detach(id, roomID)

	deliveries := []Delivery{{
		Conn:  id,
		Event: Event{Type: OutRoomLeft, Data: RoomLeftData{RoomID: roomID}},
	}}
	if removed {
		deliveries = append(deliveries, r.toRoom(roomID, Event{
			Type: OutUserLeftRoom,
			Data: RoomUserData{Identity: identity, RoomID: roomID},
		})...)
	}
	return reply{deliveries: deliveries, outcome: metrics.OutcomeOK}
}

func (r *Router) sendMessage(ctx context.Context, id ConnID, identity Identity, data json.RawMessage) reply {
	var p sendMessagePayload
	if err := decode(data, &p); err != nil {
		return r.reject(id, model.NewValidationError("send_messageのペイロードが不正です"))
	}
	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return r.reject(id, model.NewValidationError("room_idを指定してください"))
	}
	if !validRoomID(roomID) {
		return r.reject(id, model.NewValidationError("room_idの形式が不正です"))
	}

	// 本文はトリムのみで保存、配信する。表示時のエスケープはクライアントが行う
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return r.reject(id, model.NewValidationError("メッセージが空です"))
	}
	if utf8.RuneCountInString(content) > r.cfg.MaxMessageLength {
		return r.reject(id, model.NewValidationError(
			fmt.Sprintf("メッセージは%d文字以内で入力してください", r.cfg.MaxMessageLength)))
	}

	if !r.rooms.IsSubscribed(id, roomID) {
		return r.reject(id, model.NewAccessDeniedError())
	}
	if r.limiter != nil && !r.limiter.Allow(identity.UserID) {
		return r.reject(id, model.NewRateLimitedError())
	}

	lock := r.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	msg := &model.Message{
		RoomID:   roomID,
		SenderID: identity.UserID,
		Content:  content,
		Type:     model.MessageTypeText,
	}
	msgID, err := r.store.PersistMessage(ctx, msg)
	if err != nil {
		return r.storeFailure(id, "persist message", err)
	}
	r.metrics.RecordMessagePersisted()

	deliveries := r.toRoom(roomID, Event{
		Type: OutNewMessage,
		Data: MessageData{
			ID:      msgID,
			RoomID:  roomID,
			Content: msg.Content,
			Sender: Sender{
				ID:          identity.UserID,
				Username:    identity.Username,
				DisplayName: identity.DisplayName,
			},
			Timestamp: msg.CreatedAt,
		},
	})
	// ロックを保持したまま積むことで、ルーム内の配信順が永続化順と一致する
	r.hub.Deliver(deliveries)
	return reply{deliveries: deliveries, outcome: metrics.OutcomeOK, delivered: true}
}

func (r *Router) typing(eventType string) handlerFunc {
	return func(_ context.Context, id ConnID, identity Identity, data json.RawMessage) reply {
		var p roomPayload
		if err := decode(data, &p); err != nil || strings.TrimSpace(p.RoomID) == "" {
			return r.reject(id, model.NewValidationError("room_idを指定してください"))
		}
		roomID := strings.TrimSpace(p.RoomID)
		if !validRoomID(roomID) {
			return r.reject(id, model.NewValidationError("room_idの形式が不正です"))
		}

		// 購読していないルームへの入力通知は黙って捨てる
		if !r.rooms.IsSubscribed(id, roomID) {
			return reply{outcome: metrics.OutcomeOK}
		}
		return reply{
			deliveries: r.toOthers(roomID, id, Event{
				Type: eventType,
				Data: RoomUserData{Identity: identity, RoomID: roomID},
			}),
			outcome: metrics.OutcomeOK,
		}
	}
}

// announceLeft はルームの残りの購読者へuser_left_roomを配信する。
func (r *Router) announceLeft(roomID string, identity Identity) []Delivery {
	lock := r.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	deliveries := r.toRoom(roomID, Event{
		Type: OutUserLeftRoom,
		Data: RoomUserData{Identity: identity, RoomID: roomID},
	})
	r.hub.Deliver(deliveries)
	return deliveries
}

// markOffline は参照カウントを減らし、最後の接続だった場合はuser_offlineを配信する。
// 配信とDBへの反映はユーザーロックの下で行うため、並行する再接続の
// user_onlineと順序が入れ替わらない。
func (r *Router) markOffline(ctx context.Context, identity Identity) []Delivery {
	lock := r.userLock(identity.UserID)
	lock.Lock()
	defer lock.Unlock()

	if !r.presence.MarkOfflineIfLast(identity) {
		return nil
	}
	deliveries := r.toAll(offlineEvent(identity))
	r.hub.Deliver(deliveries)
	r.mirrorPresence(ctx, identity.UserID, false)
	return deliveries
}

// mirrorPresence はオンライン状態をDBに反映する。失敗しても配信済みの状態は戻さない。
func (r *Router) mirrorPresence(ctx context.Context, userID string, online bool) {
	if err := r.store.SetOnline(ctx, userID, online); err != nil {
		r.logger.Warn("failed to mirror presence",
			slog.String("user_id", userID),
			slog.Bool("online", online),
			slog.String("error", err.Error()),
		)
	}
}

func offlineEvent(identity Identity) Event {
	return Event{
		Type: OutUserOffline,
		Data: PresenceData{UserID: identity.UserID, Username: identity.Username},
	}
}

func (r *Router) roomLock(roomID string) *sync.Mutex {
	v, _ := r.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (r *Router) userLock(userID string) *sync.Mutex {
	v, _ := r.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (r *Router) toRoom(roomID string, ev Event) []Delivery {
	subs := r.rooms.SubscribersOf(roomID)
	deliveries := make([]Delivery, 0, len(subs))
	for _, c := range subs {
		deliveries = append(deliveries, Delivery{Conn: c, Event: ev})
	}
	return deliveries
}

func (r *Router) toOthers(roomID string, self ConnID, ev Event) []Delivery {
	subs := r.rooms.SubscribersOf(roomID)
	deliveries := make([]Delivery, 0, len(subs))
	for _, c := range subs {
		if c == self {
			continue
		}
		deliveries = append(deliveries, Delivery{Conn: c, Event: ev})
	}
	return deliveries
}

func (r *Router) toAll(ev Event) []Delivery {
	conns := r.registry.Connections()
	deliveries := make([]Delivery, 0, len(conns))
	for _, c := range conns {
		deliveries = append(deliveries, Delivery{Conn: c, Event: ev})
	}
	return deliveries
}

func (r *Router) reject(id ConnID, apiErr *model.APIError) reply {
	return reply{
		deliveries: []Delivery{errorDelivery(id, OutError, apiErr)},
		outcome:    metrics.OutcomeRejected,
	}
}

func (r *Router) authError(id ConnID, apiErr *model.APIError) reply {
	return reply{
		deliveries: []Delivery{errorDelivery(id, OutAuthError, apiErr)},
		outcome:    metrics.OutcomeRejected,
	}
}

func (r *Router) fail(id ConnID) reply {
	return reply{
		deliveries: []Delivery{errorDelivery(id, OutError, model.NewPersistenceFailureError())},
		outcome:    metrics.OutcomeFailed,
	}
}

func (r *Router) storeFailure(id ConnID, op string, err error) reply {
	r.logger.Error("store operation failed",
		slog.String("op", op),
		slog.Uint64("conn_id", uint64(id)),
		slog.String("error", err.Error()),
	)
	return r.fail(id)
}

func errorDelivery(id ConnID, eventType string, apiErr *model.APIError) Delivery {
	return Delivery{
		Conn:  id,
		Event: Event{Type: eventType, Data: ErrorData{Code: apiErr.Code, Message: apiErr.Message}},
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func validRoomID(roomID string) bool {
	_, err := uuid.Parse(roomID)
	return err == nil
}

// ValidJoinCode はコードが英大文字と数字からなる8文字かどうかを返す。
func ValidJoinCode(code string) bool {
	if len(code) != model.JoinCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
