package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-botnet/internal/services"
	"github.com/miradorstack/mirador-botnet/internal/wire"
)

const maxRequestBody = 1 << 20

// HTTPServer exposes the detection service as JSON over HTTP.
type HTTPServer struct {
	logger  *slog.Logger
	service *services.DetectionService
	server  *http.Server
}

// NewHTTPServer constructs the HTTP API bound to addr.
func NewHTTPServer(addr string, service *services.DetectionService, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HTTPServer{logger: logger, service: service}
	h.server = &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// Router builds the route table.
func (h *HTTPServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods(http.MethodGet)
	// root router so method mismatches answer 405
	r.HandleFunc("/api/v1/runs", h.createRunHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/runs", h.listRunsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/{id}", h.getRunHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/runs/{id}/flagged", h.flaggedHandler).Methods(http.MethodGet)
	return r
}

// Start listens until Shutdown is called.
func (h *HTTPServer) Start() error {
	lis, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.logger.Info("http api listening", slog.String("address", lis.Addr().String()))
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

func (h *HTTPServer) createRunHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.writeError(w, status.Errorf(codes.InvalidArgument, "failed to read request body: %v", err))
		return
	}
	req := &structpb.Struct{}
	if len(body) > 0 {
		if err := protojson.Unmarshal(body, req); err != nil {
			h.writeError(w, status.Errorf(codes.InvalidArgument, "failed to decode request: %v", err))
			return
		}
	}
	runReq, err := wire.RunRequestFromStruct(req)
	if err != nil {
		h.writeError(w, status.Error(codes.InvalidArgument, err.Error()))
		return
	}
	result, err := h.service.Run(r.Context(), runReq)
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := wire.RunResultToStruct(result)
	h.writeMessage(w, http.StatusCreated, msg, err)
}

func (h *HTTPServer) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}
	infos, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := wire.RunListToStruct(infos)
	h.writeMessage(w, http.StatusOK, msg, err)
}

func (h *HTTPServer) getRunHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := wire.RunResultToStruct(result)
	h.writeMessage(w, http.StatusOK, msg, err)
}

func (h *HTTPServer) flaggedHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}
	runID := mux.Vars(r)["id"]
	records, total, err := h.service.Flagged(r.Context(), runID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	msg, err := wire.RecordsToStruct(runID, records, total)
	h.writeMessage(w, http.StatusOK, msg, err)
}

func (h *HTTPServer) writeMessage(w http.ResponseWriter, code int, msg proto.Message, err error) {
	if err != nil {
		h.writeError(w, status.Errorf(codes.Internal, "encode response: %v", err))
		return
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		h.writeError(w, status.Errorf(codes.Internal, "marshal response: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	code := httpStatus(st.Code())
	if code >= http.StatusInternalServerError {
		h.logger.Error("http request failed", slog.String("code", st.Code().String()), slog.String("error", st.Message()))
	}
	body, _ := structpb.NewStruct(map[string]any{"error": st.Message(), "code": st.Code().String()})
	data, _ := protojson.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Canceled, codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return v, nil
}
