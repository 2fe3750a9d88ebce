// Package transport carries peer envelopes between nodes over http. Every envelope is POSTed to the peer path of the
// receiving node's url, the response body is the encoded response envelope.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/mux"
)

const (
	// PeerPath is appended to a node's url to reach its peer endpoint
	PeerPath    = "/weft/peer"
	contentType = "application/octet-stream"

	maxMessageSize  = 4 << 20
	shutdownTimeout = 5 * time.Second
)

var ErrRemote = errors.New("remote node returned an error")

type handler func(ctx context.Context, data []byte) ([]byte, error)

// Http implements state.Transport
type Http struct {
	listen string
	log    *slog.Logger
	client *resty.Client

	mu     sync.Mutex
	server *http.Server
}

func NewHttp(listen string, log *slog.Logger) *Http {
	if log == nil {
		log = slog.Default()
	}
	return &Http{
		listen: listen,
		log:    log,
		client: resty.New().SetHeader("Content-Type", contentType),
	}
}

// PeerUrl is the endpoint envelopes for the node at url are posted to
func PeerUrl(url string) string {
	return strings.TrimSuffix(url, "/") + PeerPath
}

func (h *Http) Send(ctx context.Context, url string, data []byte) ([]byte, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(data).
		Post(PeerUrl(url))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemote, resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return resp.Body(), nil
}

// Router returns the http handler serving the peer endpoint
func Router(h handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(PeerPath, func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxMessageSize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := h(req.Context(), body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	}).Methods(http.MethodPost)
	return r
}

func (h *Http) Listen(fn func(ctx context.Context, data []byte) ([]byte, error)) error {
	if h.listen == "" {
		h.log.Warn("no listen address configured, other nodes will not be able to reach us")
		return nil
	}
	l, err := net.Listen("tcp", h.listen)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:      Router(fn),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	h.mu.Lock()
	h.server = server
	h.mu.Unlock()

	h.log.Info("listening for peers", "address", l.Addr().String())
	go func() {
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("peer endpoint stopped", "error", err)
		}
	}()
	return nil
}

func (h *Http) Close() error {
	h.mu.Lock()
	server := h.server
	h.server = nil
	h.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
