package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface mirrors the operations of the embedded API document.
type ServerInterface interface {
	// (GET /)
	GetRoot(w http.ResponseWriter, r *http.Request)
	// (GET /healthz)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (GET /openapi.yaml)
	GetDocument(w http.ResponseWriter, r *http.Request)
	// (GET /get-rooms/{device_id})
	GetRooms(w http.ResponseWriter, r *http.Request, deviceID string)
	// (GET /get-relay-states/{device_id})
	GetRelayStates(w http.ResponseWriter, r *http.Request, deviceID string)
	// (POST /save-rooms/{device_id})
	SaveRooms(w http.ResponseWriter, r *http.Request, deviceID string)
	// (GET /devices)
	ListDevices(w http.ResponseWriter, r *http.Request)
	// (GET /devices/{device_id}/telemetry)
	GetTelemetry(w http.ResponseWriter, r *http.Request, deviceID string)
	// (GET /ws)
	ConnectSocket(w http.ResponseWriter, r *http.Request, params ConnectSocketParams)
}

type ConnectSocketParams struct {
	DeviceID string  `form:"device_id" json:"device_id"`
	Role     *string `form:"role,omitempty" json:"role,omitempty"`
}

type MiddlewareFunc func(http.Handler) http.Handler

type GorillaServerOptions struct {
	BaseURL          string
	BaseRouter       *mux.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

type serverInterfaceWrapper struct {
	handler      ServerInterface
	errorHandler func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *serverInterfaceWrapper) pathDeviceID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var deviceID string
	err := runtime.BindStyledParameterWithOptions("simple", "device_id", mux.Vars(r)["device_id"], &deviceID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "device_id", Err: err})
		return "", false
	}
	return deviceID, true
}

func (siw *serverInterfaceWrapper) GetRooms(w http.ResponseWriter, r *http.Request) {
	if deviceID, ok := siw.pathDeviceID(w, r); ok {
		siw.handler.GetRooms(w, r, deviceID)
	}
}

func (siw *serverInterfaceWrapper) GetRelayStates(w http.ResponseWriter, r *http.Request) {
	if deviceID, ok := siw.pathDeviceID(w, r); ok {
		siw.handler.GetRelayStates(w, r, deviceID)
	}
}

func (siw *serverInterfaceWrapper) SaveRooms(w http.ResponseWriter, r *http.Request) {
	if deviceID, ok := siw.pathDeviceID(w, r); ok {
		siw.handler.SaveRooms(w, r, deviceID)
	}
}

func (siw *serverInterfaceWrapper) GetTelemetry(w http.ResponseWriter, r *http.Request) {
	if deviceID, ok := siw.pathDeviceID(w, r); ok {
		siw.handler.GetTelemetry(w, r, deviceID)
	}
}

func (siw *serverInterfaceWrapper) ConnectSocket(w http.ResponseWriter, r *http.Request) {
	var params ConnectSocketParams
	if err := runtime.BindQueryParameter("form", true, true, "device_id", r.URL.Query(), &params.DeviceID); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "device_id", Err: err})
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "role", r.URL.Query(), &params.Role); err != nil {
		siw.errorHandler(w, r, &InvalidParamFormatError{ParamName: "role", Err: err})
		return
	}
	siw.handler.ConnectSocket(w, r, params)
}

func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, GorillaServerOptions{})
}

// HandlerWithOptions routes every operation of si. Middlewares wrap the whole
// router so they also see unmatched routes and CORS preflights.
func HandlerWithOptions(si ServerInterface, options GorillaServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = mux.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
	}
	wrapper := serverInterfaceWrapper{
		handler:      si,
		errorHandler: options.ErrorHandlerFunc,
	}

	r.HandleFunc(options.BaseURL+"/", si.GetRoot).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/healthz", si.GetHealth).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/openapi.yaml", si.GetDocument).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/get-rooms/{device_id}", wrapper.GetRooms).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/get-relay-states/{device_id}", wrapper.GetRelayStates).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/save-rooms/{device_id}", wrapper.SaveRooms).Methods(http.MethodPost)
	r.HandleFunc(options.BaseURL+"/devices", si.ListDevices).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/devices/{device_id}/telemetry", wrapper.GetTelemetry).Methods(http.MethodGet)
	r.HandleFunc(options.BaseURL+"/ws", wrapper.ConnectSocket).Methods(http.MethodGet)

	var h http.Handler = r
	for i := len(options.Middlewares) - 1; i >= 0; i-- {
		h = options.Middlewares[i](h)
	}
	return h
}
