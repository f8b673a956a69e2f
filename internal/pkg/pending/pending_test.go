package pending

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

func TestStore_DeliverByRequestID(t *testing.T) {
	s := New()
	ch1, done1 := s.Await("dev1", model.RoomsReply, "r1")
	defer done1()
	ch2, done2 := s.Await("dev1", model.RoomsReply, "r2")
	defer done2()

	assert.Equal(t, 1, s.Deliver("dev1", model.RoomsReply, "r2", json.RawMessage(`{"rooms_saved":"b"}`)))

	select {
	case got := <-ch2:
		assert.JSONEq(t, `{"rooms_saved":"b"}`, string(got))
	default:
		t.Fatal("r2 should have received its reply")
	}
	select {
	case <-ch1:
		t.Fatal("r1 must not receive r2's reply")
	default:
	}
	assert.Equal(t, 1, s.Waiting("dev1", model.RoomsReply))
}

func TestStore_StaleReplyDropped(t *testing.T) {
	s := New()
	_, done := s.Await("dev1", model.RoomsReply, "r1")
	done()

	ch, done2 := s.Await("dev1", model.RoomsReply, "r2")
	defer done2()

	assert.Equal(t, 0, s.Deliver("dev1", model.RoomsReply, "r1", json.RawMessage(`{}`)))
	select {
	case <-ch:
		t.Fatal("a reply to an abandoned request must not satisfy a later one")
	default:
	}
}

func TestStore_DeliverWithoutRequestIDFansOut(t *testing.T) {
	s := New()
	ch1, done1 := s.Await("dev1", model.RelayStateReply, "r1")
	defer done1()
	ch2, done2 := s.Await("dev1", model.RelayStateReply, "r2")
	defer done2()
	other, done3 := s.Await("dev2", model.RelayStateReply, "r3")
	defer done3()

	assert.Equal(t, 2, s.Deliver("dev1", model.RelayStateReply, "", json.RawMessage(`{"relay_states":"01"}`)))
	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)
	assert.Len(t, other, 0)
	assert.Equal(t, 0, s.Waiting("dev1", model.RelayStateReply))
	assert.Equal(t, 1, s.Waiting("dev2", model.RelayStateReply))
}

func TestStore_KindsAreIsolated(t *testing.T) {
	s := New()
	ch, done := s.Await("dev1", model.RoomsReply, "r1")
	defer done()

	assert.Equal(t, 0, s.Deliver("dev1", model.RelayStateReply, "r1", json.RawMessage(`{}`)))
	assert.Len(t, ch, 0)
}

func TestStore_DoneRemovesWaiter(t *testing.T) {
	s := New()
	_, done := s.Await("dev1", model.RoomsReply, "r1")
	require.Equal(t, 1, s.Waiting("dev1", model.RoomsReply))
	done()
	done()
	assert.Equal(t, 0, s.Waiting("dev1", model.RoomsReply))
	assert.Equal(t, 0, s.Deliver("dev1", model.RoomsReply, "", json.RawMessage(`{}`)))
}

func TestStore_Concurrent(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			ch, done := s.Await("dev1", model.RoomsReply, id)
			defer done()
			s.Deliver("dev1", model.RoomsReply, id, json.RawMessage(`{}`))
			<-ch
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, s.Waiting("dev1", model.RoomsReply))
}
