package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/relay-bridge/internal/pkg/bridge"
	"github.com/anicoll/relay-bridge/internal/pkg/hub"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/pending"
	"github.com/anicoll/relay-bridge/internal/pkg/registry"
	"github.com/anicoll/relay-bridge/internal/pkg/router"
	"github.com/anicoll/relay-bridge/internal/pkg/schema"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
	"github.com/anicoll/relay-bridge/pkg/sockets"
)

type mockCaller struct {
	CallFunc func(ctx context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error)
}

func (m *mockCaller) Call(ctx context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error) {
	return m.CallFunc(ctx, deviceID, request, reply, payload)
}

type mockRouter struct {
	SaveRoomsFunc func(ctx context.Context, deviceID string, rooms model.RoomList) error
}

func (m *mockRouter) Connect(context.Context, *hub.Client)              {}
func (m *mockRouter) Disconnect(context.Context, *hub.Client)           {}
func (m *mockRouter) Handle(context.Context, *hub.Client, []byte) error { return nil }
func (m *mockRouter) SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error {
	return m.SaveRoomsFunc(ctx, deviceID, rooms)
}

type staticDevices []string

func (d staticDevices) Devices() []string { return d }

func newTestServer(t *testing.T, c caller, rt commandRouter, devices deviceLister, store storage.Store) *httptest.Server {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))
	v, err := schema.New()
	require.NoError(t, err)
	srv := httptest.NewServer(HandlerWithOptions(New(c, rt, devices, store, v), GorillaServerOptions{
		Middlewares: []MiddlewareFunc{CorsMiddleware, LoggingMiddleware},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	out, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(out)
}

func TestServer_Static(t *testing.T) {
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{}, storage.NewMemory(10))

	code, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Server running", body)

	code, body = get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, srv.URL+"/openapi.yaml")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(schema.Document()), body)
}

func TestServer_Cors(t *testing.T) {
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{}, storage.NewMemory(10))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/save-rooms/dev1", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://panel.local")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "http://panel.local", res.Header.Get("Access-Control-Allow-Origin"))

	res, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_GetRooms(t *testing.T) {
	tests := map[string]struct {
		reply    json.RawMessage
		err      error
		wantCode int
		wantBody string
	}{
		"joined string": {
			reply:    json.RawMessage(`{"rooms_saved":"Kitchen,Bedroom"}`),
			wantCode: http.StatusOK,
			wantBody: `{"rooms_saved":"Kitchen,Bedroom"}`,
		},
		"list": {
			reply:    json.RawMessage(`{"rooms_saved":["Kitchen","Bedroom"]}`),
			wantCode: http.StatusOK,
			wantBody: `{"rooms_saved":"Kitchen,Bedroom"}`,
		},
		"timed out": {
			err:      fmt.Errorf("%w: dev1", bridge.ErrTimedOut),
			wantCode: http.StatusGatewayTimeout,
			wantBody: `{"error":"device not responding"}`,
		},
		"absent device": {
			err:      fmt.Errorf("%w: %w: dev1", bridge.ErrTimedOut, bridge.ErrDeviceUnknown),
			wantCode: http.StatusGatewayTimeout,
			wantBody: `{"error":"device not responding"}`,
		},
		"malformed reply": {
			reply:    json.RawMessage(`{"rooms_saved":42}`),
			wantCode: http.StatusBadGateway,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := &mockCaller{CallFunc: func(_ context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error) {
				assert.Equal(t, "dev1", deviceID)
				assert.Equal(t, model.GetRooms, request)
				assert.Equal(t, model.RoomsReply, reply)
				assert.Equal(t, model.BridgeRequest{Request: true}, payload)
				return tt.reply, tt.err
			}}
			srv := newTestServer(t, c, &mockRouter{}, staticDevices{}, storage.NewMemory(10))

			code, body := get(t, srv.URL+"/get-rooms/dev1")
			assert.Equal(t, tt.wantCode, code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, body)
			}
		})
	}
}

func TestServer_GetRelayStates(t *testing.T) {
	tests := map[string]struct {
		reply    json.RawMessage
		err      error
		wantCode int
		wantBody string
	}{
		"decoded": {
			reply:    json.RawMessage(`{"relay_states":"101"}`),
			wantCode: http.StatusOK,
			wantBody: `{"relay_states":{"1":true,"2":false,"3":true}}`,
		},
		"list of bits": {
			reply:    json.RawMessage(`{"relay_states":["0","1"]}`),
			wantCode: http.StatusOK,
			wantBody: `{"relay_states":{"1":false,"2":true}}`,
		},
		"malformed state": {
			reply:    json.RawMessage(`{"relay_states":"10x"}`),
			wantCode: http.StatusBadGateway,
			wantBody: `{"error":"malformed relay state"}`,
		},
		"empty state": {
			reply:    json.RawMessage(`{"relay_states":""}`),
			wantCode: http.StatusBadGateway,
			wantBody: `{"error":"malformed relay state"}`,
		},
		"timed out": {
			err:      bridge.ErrTimedOut,
			wantCode: http.StatusGatewayTimeout,
			wantBody: `{"error":"device not responding"}`,
		},
		"unexpected": {
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"boom"}`,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := &mockCaller{CallFunc: func(_ context.Context, _ string, request, reply model.Event, _ any) (json.RawMessage, error) {
				assert.Equal(t, model.GetRelayStates, request)
				assert.Equal(t, model.RelayStateReply, reply)
				return tt.reply, tt.err
			}}
			srv := newTestServer(t, c, &mockRouter{}, staticDevices{}, storage.NewMemory(10))

			code, body := get(t, srv.URL+"/get-relay-states/dev1")
			assert.Equal(t, tt.wantCode, code)
			assert.JSONEq(t, tt.wantBody, body)
		})
	}
}

func TestServer_SaveRooms(t *testing.T) {
	tests := map[string]struct {
		body      string
		saveErr   error
		wantRooms model.RoomList
		wantCode  int
		wantBody  string
	}{
		"joined string": {
			body:      `{"rooms":"Kitchen,Bedroom"}`,
			wantRooms: model.RoomList{"Kitchen", "Bedroom"},
			wantCode:  http.StatusOK,
			wantBody:  `{"success":true,"rooms_saved":"Kitchen,Bedroom"}`,
		},
		"list": {
			body:      `{"rooms":["Kitchen","Bedroom"]}`,
			wantRooms: model.RoomList{"Kitchen", "Bedroom"},
			wantCode:  http.StatusOK,
			wantBody:  `{"success":true,"rooms_saved":"Kitchen,Bedroom"}`,
		},
		"missing rooms": {
			body:     `{}`,
			wantCode: http.StatusBadRequest,
		},
		"not json": {
			body:     `rooms=Kitchen`,
			wantCode: http.StatusBadRequest,
		},
		"wrong type": {
			body:     `{"rooms":7}`,
			wantCode: http.StatusBadRequest,
		},
		"store failure": {
			body:      `{"rooms":"Kitchen"}`,
			saveErr:   errors.New("disk full"),
			wantRooms: model.RoomList{"Kitchen"},
			wantCode:  http.StatusInternalServerError,
			wantBody:  `{"error":"disk full"}`,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var saved model.RoomList
			rt := &mockRouter{SaveRoomsFunc: func(_ context.Context, deviceID string, rooms model.RoomList) error {
				assert.Equal(t, "dev1", deviceID)
				saved = rooms
				return tt.saveErr
			}}
			srv := newTestServer(t, &mockCaller{}, rt, staticDevices{}, storage.NewMemory(10))

			code, body := post(t, srv.URL+"/save-rooms/dev1", tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantRooms, saved)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, body)
			}
		})
	}
}

func TestServer_SaveRoomsWrongMethod(t *testing.T) {
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{}, storage.NewMemory(10))
	code, _ := get(t, srv.URL+"/save-rooms/dev1")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServer_ListDevices(t *testing.T) {
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{"a", "b"}, storage.NewMemory(10))
	code, body := get(t, srv.URL+"/devices")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"devices":["a","b"]}`, body)

	srv = newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices(nil), storage.NewMemory(10))
	_, body = get(t, srv.URL+"/devices")
	assert.JSONEq(t, `{"devices":[]}`, body)
}

func TestServer_GetTelemetry(t *testing.T) {
	store := storage.NewMemory(10)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.AppendTelemetry(context.Background(), model.TelemetrySample{
		DeviceID:     "dev1",
		Measurements: model.Measurements{Voltage: 230, Status: "Good"},
		ReceivedAt:   at,
	}))
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{}, store)

	code, body := get(t, srv.URL+"/devices/dev1/telemetry")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"telemetry":[{"device_id":"dev1","measurements":{"voltage":230,"current":0,"power":0,"status":"Good","frequency":0,"temperature":0},"received_at":"2024-01-02T03:04:05Z"}]}`, body)

	_, body = get(t, srv.URL+"/devices/unknown/telemetry")
	assert.JSONEq(t, `{"telemetry":[]}`, body)
}

func TestServer_ConnectSocketRequiresDevice(t *testing.T) {
	srv := newTestServer(t, &mockCaller{}, &mockRouter{}, staticDevices{}, storage.NewMemory(10))
	code, _ := get(t, srv.URL+"/ws")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, srv.URL+"/ws?device_id=")
	assert.Equal(t, http.StatusBadRequest, code)
}

// stack wires the real components behind the HTTP surface.
type stack struct {
	srv      *httptest.Server
	registry *registry.Registry
	store    *storage.Memory
}

func newStack(t *testing.T, timeout time.Duration) *stack {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))
	v, err := schema.New()
	require.NoError(t, err)

	reg := registry.New()
	waiters := pending.New()
	store := storage.NewMemory(10)
	rt := router.New(reg, waiters, hub.New(), store, v)
	b := bridge.New(reg, waiters, timeout)

	srv := httptest.NewServer(HandlerWithOptions(New(b, rt, reg, store, v), GorillaServerOptions{
		Middlewares: []MiddlewareFunc{CorsMiddleware, LoggingMiddleware},
	}))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, registry: reg, store: store}
}

func (s *stack) dial(t *testing.T, deviceID string, role model.Role, onEnvelope func(env model.Envelope, c sockets.Connection)) *sockets.Conn {
	t.Helper()
	conn := sockets.New(sockets.OnMessage(func(msg []byte, c sockets.Connection) {
		var env model.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Errorf("bad frame: %v", err)
			return
		}
		onEnvelope(env, c)
	}))
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?device_id=" + deviceID + "&role=" + role.String()
	require.NoError(t, conn.Dial(context.Background(), url))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func reply(t *testing.T, c sockets.Connection, event model.Event, requestID string, data any) {
	t.Helper()
	env, err := model.NewEnvelope(event, "", data)
	require.NoError(t, err)
	env.RequestID = requestID
	require.NoError(t, c.SendJSON(env))
}

func TestServer_DeviceRoundTrip(t *testing.T) {
	s := newStack(t, time.Second)
	saved := make(chan string, 1)
	s.dial(t, "dev1", model.RoleDevice, func(env model.Envelope, c sockets.Connection) {
		switch env.Event {
		case model.GetRooms:
			reply(t, c, model.RoomsReply, env.RequestID, map[string]string{"rooms_saved": "Kitchen,Bedroom"})
		case model.GetRelayStates:
			reply(t, c, model.RelayStateReply, env.RequestID, map[string]string{"relay_states": "0110"})
		case model.SaveRooms:
			var cmd model.SaveRoomsCommand
			_ = json.Unmarshal(env.Data, &cmd)
			saved <- cmd.Rooms
		}
	})

	code, body := get(t, s.srv.URL+"/get-rooms/dev1")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"rooms_saved":"Kitchen,Bedroom"}`, body)

	code, body = get(t, s.srv.URL+"/get-relay-states/dev1")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"relay_states":{"1":false,"2":true,"3":true,"4":false}}`, body)

	code, body = post(t, s.srv.URL+"/save-rooms/dev1", `{"rooms":["Hall","Garage"]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":true,"rooms_saved":"Hall,Garage"}`, body)
	select {
	case rooms := <-saved:
		assert.Equal(t, "Hall,Garage", rooms)
	case <-time.After(time.Second):
		t.Fatal("device never received save_rooms")
	}

	code, body = get(t, s.srv.URL+"/devices")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"devices":["dev1"]}`, body)
}

func TestServer_DeviceNotResponding(t *testing.T) {
	s := newStack(t, 100*time.Millisecond)
	s.dial(t, "silent", model.RoleDevice, func(model.Envelope, sockets.Connection) {})

	start := time.Now()
	code, body := get(t, s.srv.URL+"/get-rooms/silent")
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.JSONEq(t, `{"error":"device not responding"}`, body)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	code, _ = get(t, s.srv.URL+"/get-relay-states/nobody")
	assert.Equal(t, http.StatusGatewayTimeout, code)
}

func TestServer_ToggleThroughSockets(t *testing.T) {
	s := newStack(t, time.Second)
	commands := make(chan model.ToggleCommand, 1)
	s.dial(t, "dev1", model.RoleDevice, func(env model.Envelope, c sockets.Connection) {
		if env.Event != model.ToggleRequest {
			return
		}
		var cmd model.ToggleCommand
		_ = json.Unmarshal(env.Data, &cmd)
		commands <- cmd
		reply(t, c, model.ToggleAck, "", map[string]any{"updates": cmd.Updates, "relay_states": cmd.RelayStates})
	})
	require.Eventually(t, func() bool {
		_, ok := s.registry.Lookup("dev1")
		return ok
	}, time.Second, 10*time.Millisecond)

	acks := make(chan json.RawMessage, 1)
	panel := s.dial(t, "dev1", model.RoleClient, func(env model.Envelope, _ sockets.Connection) {
		if env.Event == model.ToggleAckUpdate {
			acks <- env.Data
		}
	})
	env, err := model.NewEnvelope(model.ToggleRequest, "", model.ToggleRequestMessage{Updates: map[string]bool{"3": true}})
	require.NoError(t, err)
	require.NoError(t, panel.SendJSON(env))

	select {
	case cmd := <-commands:
		assert.Equal(t, "00100000", cmd.RelayStates)
	case <-time.After(time.Second):
		t.Fatal("device never received the toggle")
	}
	select {
	case ack := <-acks:
		assert.JSONEq(t, `{"updates":{"3":true},"relay_states":"00100000"}`, string(ack))
	case <-time.After(time.Second):
		t.Fatal("panel never saw the ack")
	}
	require.Eventually(t, func() bool {
		state, err := s.store.RelayState(context.Background(), "dev1")
		return err == nil && state == "00100000"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleError(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"timeout":       {err: bridge.ErrTimedOut, want: http.StatusGatewayTimeout},
		"bad reply":     {err: errMalformedReply, want: http.StatusBadGateway},
		"bad request":   {err: errBadRequest, want: http.StatusBadRequest},
		"malformed":     {err: router.ErrMalformedPayload, want: http.StatusBadRequest},
		"not found":     {err: storage.ErrNotFound, want: http.StatusNotFound},
		"cancelled":     {err: context.Canceled, want: 499},
		"anything else": {err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleError(rec, fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
