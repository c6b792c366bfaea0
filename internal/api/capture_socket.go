package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yegors/clara/internal/capture"
	"github.com/yegors/clara/pkg/logger"
)

// CaptureAttacher hands browser capture sockets to the capture source
type CaptureAttacher interface {
	Attach(owner string) *capture.StreamDevice
	Deny(owner, reason string)
}

// CaptureSocketHandler accepts browser microphone sockets. The browser sends
// binary float32 little-endian frames, or a text message naming why no
// microphone is available.
type CaptureSocketHandler struct {
	source   CaptureAttacher
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewCaptureSocketHandler creates a capture socket handler
func NewCaptureSocketHandler(source CaptureAttacher, log *logger.Logger) *CaptureSocketHandler {
	return &CaptureSocketHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16384,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("capture-socket"),
	}
}

// ServeHTTP upgrades the request and feeds the owner's device until either
// side closes
func (h *CaptureSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if owner == "" {
		http.Error(w, "Capture owner is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade capture socket", logger.Error(err))
		return
	}
	defer conn.Close()

	// The first message decides whether this is a microphone or a refusal
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("Capture socket closed before first frame",
			logger.String("owner", owner),
			logger.Error(err))
		return
	}
	if msgType == websocket.TextMessage {
		reason := strings.TrimSpace(string(data))
		switch reason {
		case capture.ReasonPermissionDenied, capture.ReasonNoDevice:
		default:
			reason = capture.ReasonNoDevice
		}
		h.source.Deny(owner, reason)
		return
	}

	dev := h.source.Attach(owner)
	h.logger.Info("Browser capture attached", logger.String("owner", owner))

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "capture released"),
				time.Now().Add(time.Second))
			conn.Close()
		})
	}
	go func() {
		<-dev.Closed()
		closeConn()
	}()

	if !h.feed(dev, data) {
		return
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-dev.Closed():
				err = nil
			default:
			}
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("Capture socket read failed",
					logger.String("owner", owner),
					logger.Error(err))
				dev.End(errors.Join(capture.ErrDeviceUnavailable, err))
			} else {
				dev.End(nil)
			}
			closeConn()
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if !h.feed(dev, data) {
			closeConn()
			return
		}
	}
}

func (h *CaptureSocketHandler) feed(dev *capture.StreamDevice, data []byte) bool {
	samples := capture.DecodeFloat32LE(data)
	if len(samples) == 0 {
		return true
	}
	return dev.Feed(samples)
}
