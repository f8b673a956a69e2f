package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/bridge"
	"github.com/anicoll/relay-bridge/internal/pkg/codec"
	"github.com/anicoll/relay-bridge/internal/pkg/hub"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/router"
	"github.com/anicoll/relay-bridge/internal/pkg/schema"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
	"github.com/anicoll/relay-bridge/pkg/sockets"
)

var _ ServerInterface = (*server)(nil)

var (
	errMalformedReply = errors.New("malformed device reply")
	errBadRequest     = errors.New("bad request")
)

type caller interface {
	Call(ctx context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error)
}

type commandRouter interface {
	Connect(ctx context.Context, c *hub.Client)
	Disconnect(ctx context.Context, c *hub.Client)
	Handle(ctx context.Context, c *hub.Client, raw []byte) error
	SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error
}

type deviceLister interface {
	Devices() []string
}

type validator interface {
	Validate(name string, data []byte) error
}

type server struct {
	bridge     caller
	router     commandRouter
	devices    deviceLister
	store      storage.Store
	validator  validator
	socketOpts []func(*sockets.Conn)
	logger     *zap.Logger
}

type Option func(*server)

// WithSocketOptions applies opts to every accepted socket.
func WithSocketOptions(opts ...func(*sockets.Conn)) Option {
	return func(s *server) {
		s.socketOpts = append(s.socketOpts, opts...)
	}
}

func New(b caller, rt commandRouter, devices deviceLister, store storage.Store, v validator, opts ...Option) *server {
	s := &server{
		bridge:    b,
		router:    rt,
		devices:   devices,
		store:     store,
		validator: v,
		logger:    zap.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *server) GetRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Server running"))
}

func (s *server) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *server) GetDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(schema.Document())
}

func (s *server) GetRooms(w http.ResponseWriter, r *http.Request, deviceID string) {
	raw, err := s.bridge.Call(r.Context(), deviceID, model.GetRooms, model.RoomsReply, model.BridgeRequest{Request: true})
	if err != nil {
		handleError(w, err)
		return
	}
	reply, err := unmarshalReply[model.RoomsReplyMessage](raw)
	if err != nil {
		s.logger.Warn("malformed rooms reply", zap.Error(err), zap.String("device_id", deviceID))
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomsResponse{RoomsSaved: reply.RoomsSaved.String()})
}

func (s *server) GetRelayStates(w http.ResponseWriter, r *http.Request, deviceID string) {
	raw, err := s.bridge.Call(r.Context(), deviceID, model.GetRelayStates, model.RelayStateReply, model.BridgeRequest{Request: true})
	if err != nil {
		handleError(w, err)
		return
	}
	reply, err := unmarshalReply[model.RelayStateReplyMessage](raw)
	if err != nil {
		handleError(w, err)
		return
	}
	state := reply.RelayStates.String()
	if err := codec.Validate(state); err != nil {
		s.logger.Warn("device reported malformed relay state", zap.Error(err), zap.String("device_id", deviceID))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "malformed relay state"})
		return
	}
	writeJSON(w, http.StatusOK, relayStatesResponse{RelayStates: codec.Decode(state)})
}

func (s *server) SaveRooms(w http.ResponseWriter, r *http.Request, deviceID string) {
	req, err := s.unmarshalPayload(r)
	if err != nil {
		handleError(w, err)
		return
	}
	if err := s.router.SaveRooms(r.Context(), deviceID, req.Rooms); err != nil {
		handleError(w, err)
		return
	}
	s.logger.Info("rooms saved", zap.String("device_id", deviceID), zap.Strings("rooms", req.Rooms))
	writeJSON(w, http.StatusOK, saveRoomsResponse{Success: true, RoomsSaved: req.Rooms.String()})
}

func (s *server) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.Devices()
	if devices == nil {
		devices = []string{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices})
}

func (s *server) GetTelemetry(w http.ResponseWriter, r *http.Request, deviceID string) {
	samples, err := s.store.TelemetryHistory(r.Context(), deviceID)
	if err != nil {
		handleError(w, err)
		return
	}
	if samples == nil {
		samples = []model.TelemetrySample{}
	}
	writeJSON(w, http.StatusOK, telemetryResponse{Telemetry: samples})
}

func (s *server) ConnectSocket(w http.ResponseWriter, r *http.Request, params ConnectSocketParams) {
	if params.DeviceID == "" {
		handleError(w, fmt.Errorf("%w: device_id is required", errBadRequest))
		return
	}
	role := model.RoleClient
	if params.Role != nil {
		role = model.ParseRole(*params.Role)
	}
	// the socket outlives the upgrade request
	ctx := context.WithoutCancel(r.Context())

	var client *hub.Client
	opts := append([]func(*sockets.Conn){}, s.socketOpts...)
	opts = append(opts,
		sockets.OnConnected(func(sockets.Connection) {
			s.router.Connect(ctx, client)
		}),
		sockets.OnMessage(func(msg []byte, _ sockets.Connection) {
			if err := s.router.Handle(ctx, client, msg); err != nil {
				s.logger.Debug("message rejected", zap.Error(err), zap.String("device_id", client.DeviceID()))
			}
		}),
		sockets.OnError(func(err error) {
			s.logger.Warn("socket closed unexpectedly", zap.Error(err), zap.String("device_id", params.DeviceID))
		}),
		sockets.OnClose(func(sockets.Connection) {
			s.router.Disconnect(ctx, client)
		}),
	)
	conn := sockets.New(opts...)
	client = hub.NewClient(params.DeviceID, role, conn)

	if err := conn.Accept(w, r); err != nil {
		// the upgrader has already written the response
		s.logger.Warn("socket upgrade failed", zap.Error(err), zap.String("device_id", params.DeviceID))
		return
	}
	s.logger.Info("socket connected",
		zap.String("device_id", params.DeviceID),
		zap.String("role", role.String()),
		zap.String("session", client.ID()))
}

func (s *server) unmarshalPayload(r *http.Request) (*saveRoomsRequest, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := s.validator.Validate(schema.SaveRoomsRequest, data); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	var out saveRoomsRequest
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return &out, nil
}

func unmarshalReply[T any](raw json.RawMessage) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedReply, err)
	}
	return &out, nil
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrTimedOut):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: bridge.ErrTimedOut.Error()})
	case errors.Is(err, errMalformedReply):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, errBadRequest), errors.Is(err, router.ErrMalformedPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away, nobody is reading
		w.WriteHeader(499)
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("failed to write response", zap.Error(err))
	}
}
