package realtime

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func containsConn(ids []ConnID, id ConnID) bool {
	for _, c := range ids {
		if c == id {
			return true
		}
	}
	return false
}

func TestRoomIndex_SubscribeIdempotent(t *testing.T) {
	x := NewRoomIndex(4)

	if !x.Subscribe(1, "room-1") {
		t.Error("first Subscribe returned false")
	}
	if x.Subscribe(1, "room-1") {
		t.Error("second Subscribe returned true")
	}

	subs := x.SubscribersOf("room-1")
	if len(subs) != 1 || subs[0] != 1 {
		t.Errorf("SubscribersOf = %v, want [1]", subs)
	}
}

func TestRoomIndex_UnsubscribeIdempotent(t *testing.T) {
	x := NewRoomIndex(4)
	x.Subscribe(1, "room-1")
	x.Subscribe(2, "room-1")

	if !x.Unsubscribe(1, "room-1") {
		t.Error("Unsubscribe of a subscriber returned false")
	}
	if x.Unsubscribe(1, "room-1") {
		t.Error("second Unsubscribe returned true")
	}
	if x.Unsubscribe(3, "room-unknown") {
		t.Error("Unsubscribe on an unknown room returned true")
	}

	subs := x.SubscribersOf("room-1")
	if containsConn(subs, 1) {
		t.Errorf("SubscribersOf still contains 1: %v", subs)
	}
	if !containsConn(subs, 2) {
		t.Errorf("SubscribersOf lost 2: %v", subs)
	}
}

func TestRoomIndex_SubscribersOf_Empty(t *testing.T) {
	x := NewRoomIndex(0)

	subs := x.SubscribersOf("nobody-here")
	if subs == nil || len(subs) != 0 {
		t.Errorf("SubscribersOf = %#v, want empty non-nil slice", subs)
	}
}

func TestRoomIndex_UnsubscribeAll(t *testing.T) {
	x := NewRoomIndex(4)
	x.Subscribe(1, "room-1")
	x.Subscribe(1, "room-2")
	x.Subscribe(2, "room-2")

	left := x.UnsubscribeAll(1)
	sort.Strings(left)
	if len(left) != 2 || left[0] != "room-1" || left[1] != "room-2" {
		t.Errorf("UnsubscribeAll = %v, want [room-1 room-2]", left)
	}

	if subs := x.SubscribersOf("room-1"); len(subs) != 0 {
		t.Errorf("room-1 subscribers = %v, want none", subs)
	}
	if subs := x.SubscribersOf("room-2"); len(subs) != 1 || subs[0] != 2 {
		t.Errorf("room-2 subscribers = %v, want [2]", subs)
	}
	if again := x.UnsubscribeAll(1); len(again) != 0 {
		t.Errorf("second UnsubscribeAll = %v, want none", again)
	}
}

func TestRoomIndex_IsSubscribed(t *testing.T) {
	x := NewRoomIndex(4)
	x.Subscribe(1, "room-1")

	if !x.IsSubscribed(1, "room-1") {
		t.Error("IsSubscribed(1, room-1) = false")
	}
	if x.IsSubscribed(1, "room-2") {
		t.Error("IsSubscribed(1, room-2) = true")
	}
	if x.IsSubscribed(2, "room-1") {
		t.Error("IsSubscribed(2, room-1) = true")
	}
}

func TestRoomIndex_ConcurrentSubscribe(t *testing.T) {
	x := NewRoomIndex(8)

	var wg sync.WaitGroup
	for c := 1; c <= 20; c++ {
		wg.Add(1)
		go func(id ConnID) {
			defer wg.Done()
			for r := 0; r < 10; r++ {
				room := fmt.Sprintf("room-%d", r)
				x.Subscribe(id, room)
				x.SubscribersOf(room)
			}
			if id%2 == 0 {
				x.UnsubscribeAll(id)
			}
		}(ConnID(c))
	}
	wg.Wait()

	for r := 0; r < 10; r++ {
		subs := x.SubscribersOf(fmt.Sprintf("room-%d", r))
		if len(subs) != 10 {
			t.Errorf("room-%d has %d subscribers, want 10", r, len(subs))
		}
		for _, id := range subs {
			if id%2 == 0 {
				t.Errorf("room-%d still contains unsubscribed conn %d", r, id)
			}
		}
	}
}
