// Package hubtest runs an in-process stand-in for the IoT Hub device REST API.
//
// It verifies shared access signatures the way the service does, keeps a
// queue of cloud-to-device messages and tracks which ones are locked by an
// outstanding read, so the full read/complete/reject/abandon lifecycle can be
// exercised without a real hub.
//
//	POST   /devices/{device}/messages/events
//	GET    /devices/{device}/messages/devicebound
//	DELETE /devices/{device}/messages/devicebound/{etag}[?reject]
//	POST   /devices/{device}/messages/devicebound/{etag}/abandon
package hubtest

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	router "github.com/gorilla/mux"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/benmeehan/iothub-agent/pkg/encryption"
	"github.com/benmeehan/iothub-agent/pkg/iothub"
)

// Message is a cloud-to-device message held by the hub.
type Message struct {
	ID            string
	Body          string
	DeliveryCount int
}

// Hub is a fake IoT Hub for a single device.
type Hub struct {
	HubName    string
	DeviceName string

	server   *httptest.Server
	key      []byte
	resource string
	now      func() time.Time

	mu         sync.Mutex
	pending    []*Message
	events     [][]byte
	completed  []string
	rejected   []string
	sendStatus int

	// locked maps a delivery lock (the etag handed to the device) to its message.
	locked cmap.ConcurrentMap[string, *Message]
}

// New starts a hub accepting signatures made with key for deviceName on hubName.
func New(hubName, deviceName string, key []byte) *Hub {
	h := &Hub{
		HubName:    hubName,
		DeviceName: deviceName,
		key:        key,
		resource:   hubName + ".azure-devices.net/devices/" + deviceName,
		now:        time.Now,
		locked:     cmap.New[*Message](),
	}

	r := router.NewRouter()
	r.HandleFunc("/devices/{device}/messages/events", h.handleEvent).Methods(http.MethodPost)
	r.HandleFunc("/devices/{device}/messages/devicebound", h.handleRead).Methods(http.MethodGet)
	r.HandleFunc("/devices/{device}/messages/devicebound/{etag}", h.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/devices/{device}/messages/devicebound/{etag}/abandon", h.handleAbandon).Methods(http.MethodPost)
	r.Use(h.authenticate)

	h.server = httptest.NewServer(r)
	return h
}

// URL is the endpoint to hand to iothub.WithEndpoint.
func (h *Hub) URL() string {
	return h.server.URL
}

// Close shuts the server down.
func (h *Hub) Close() {
	h.server.Close()
}

// SetClock replaces the clock used for expiry checks.
func (h *Hub) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// SetSendStatus forces the status returned for accepted device-to-cloud
// messages. Zero restores the default 204.
func (h *Hub) SetSendStatus(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendStatus = code
}

// Enqueue adds a cloud-to-device message and returns its id.
func (h *Hub) Enqueue(body string) string {
	msg := &Message{ID: uuid.NewString(), Body: body}
	h.mu.Lock()
	h.pending = append(h.pending, msg)
	h.mu.Unlock()
	return msg.ID
}

// Events returns the device-to-cloud payloads received so far.
func (h *Hub) Events() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.events...)
}

// Pending returns the number of messages available for delivery.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Locked returns the number of messages delivered but not yet settled.
func (h *Hub) Locked() int {
	return h.locked.Count()
}

// Completed returns the ids of completed messages.
func (h *Hub) Completed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.completed...)
}

// Rejected returns the ids of dead-lettered messages.
func (h *Hub) Rejected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.rejected...)
}

func (h *Hub) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api-version") == "" {
			http.Error(w, "api-version is required", http.StatusBadRequest)
			return
		}
		if router.Vars(r)["device"] != h.DeviceName {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		if err := h.verify(r.Header.Get("Authorization")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Hub) verify(header string) error {
	if header == "" {
		return fmt.Errorf("missing authorization")
	}
	token, err := iothub.ParseAccessToken(header)
	if err != nil {
		return err
	}

	if resource, err := url.PathUnescape(token.Resource); err != nil || resource != h.resource {
		return fmt.Errorf("signature scoped to another resource")
	}

	encoded, err := url.QueryUnescape(token.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	payload := token.Resource + "\n" + strconv.FormatInt(token.Expiry, 10)
	if !encryption.VerifyHMACSHA256(h.key, []byte(payload), sig) {
		return fmt.Errorf("signature mismatch")
	}

	h.mu.Lock()
	now := h.now()
	h.mu.Unlock()
	if token.Expired(now) {
		return fmt.Errorf("signature expired")
	}
	return nil
}

func (h *Hub) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.events = append(h.events, body)
	status := h.sendStatus
	h.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (h *Hub) handleRead(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	msg := h.pending[0]
	h.pending = h.pending[1:]
	msg.DeliveryCount++
	h.mu.Unlock()

	lock := uuid.NewString()
	h.locked.Set(lock, msg)

	w.Header().Set("ETag", `"`+lock+`"`)
	w.Header().Set("iothub-messageid", msg.ID)
	w.Header().Set("iothub-deliverycount", fmt.Sprint(msg.DeliveryCount))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, msg.Body)
}

func (h *Hub) handleDelete(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.locked.Pop(router.Vars(r)["etag"])
	if !ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	h.mu.Lock()
	if r.URL.Query().Has("reject") {
		h.rejected = append(h.rejected, msg.ID)
	} else {
		h.completed = append(h.completed, msg.ID)
	}
	h.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) handleAbandon(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.locked.Pop(router.Vars(r)["etag"])
	if !ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	h.mu.Lock()
	h.pending = append([]*Message{msg}, h.pending...)
	h.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
