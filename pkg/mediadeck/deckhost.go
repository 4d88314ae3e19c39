package mediadeck

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// SurfaceHost is the visual control-surface host: it knows which surface
// instances are currently visible per action, and accepts image pushes
type SurfaceHost interface {
	VisibleInstances(actionUUID string) []string
	SetImage(instanceID string, image string) error
}

// ActionHandler receives surface events for one registered action UUID.
// Embed baseAction to only implement the events an action cares about
type ActionHandler interface {
	WillAppear(ctx context.Context, instanceID string)
	WillDisappear(ctx context.Context, instanceID string)
	KeyUp(ctx context.Context, instanceID string)
	DialRotate(ctx context.Context, instanceID string, ticks int)
	DialDown(ctx context.Context, instanceID string)
	DialUp(ctx context.Context, instanceID string)
}

type baseAction struct{}

func (baseAction) WillAppear(context.Context, string)      {}
func (baseAction) WillDisappear(context.Context, string)   {}
func (baseAction) KeyUp(context.Context, string)           {}
func (baseAction) DialRotate(context.Context, string, int) {}
func (baseAction) DialDown(context.Context, string)        {}
func (baseAction) DialUp(context.Context, string)          {}

// hostEvent is the envelope of every message the deck host sends us
type hostEvent struct {
	Event   string          `json:"event"`
	Action  string          `json:"action,omitempty"`
	Context string          `json:"context,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type dialPayload struct {
	Ticks int `json:"ticks"`
}

type setImagePayload struct {
	Image  string `json:"image,omitempty"`
	Target int    `json:"target"`
}

type outboundEvent struct {
	Event   string      `json:"event"`
	Context string      `json:"context,omitempty"`
	UUID    string      `json:"uuid,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// DeckHost is the websocket session to the deck host process. The host
// launches us with its port and our registration credentials as flags;
// when the session dies the host is gone and the process should wind down
type DeckHost struct {
	logger *zap.SugaredLogger

	port          int
	pluginUUID    string
	registerEvent string

	conn    *websocket.Conn
	writeMu sync.Mutex

	handlersMu sync.Mutex
	handlers   map[string]ActionHandler

	visibleMu sync.Mutex
	visible   map[string]map[string]bool // action UUID -> instance contexts
}

func NewDeckHost(logger *zap.SugaredLogger, port int, pluginUUID string, registerEvent string) *DeckHost {
	return &DeckHost{
		logger:        logger.Named("deckhost"),
		port:          port,
		pluginUUID:    pluginUUID,
		registerEvent: registerEvent,
		handlers:      make(map[string]ActionHandler),
		visible:       make(map[string]map[string]bool),
	}
}

// RegisterAction binds a handler to an action UUID. Must happen before Connect
func (dh *DeckHost) RegisterAction(actionUUID string, handler ActionHandler) {
	dh.handlersMu.Lock()
	defer dh.handlersMu.Unlock()

	dh.handlers[actionUUID] = handler
}

// Connect dials the host and performs plugin registration
func (dh *DeckHost) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d", dh.port), nil)
	if err != nil {
		dh.logger.Errorw("Failed to connect to deck host", "port", dh.port, "error", err)
		return fmt.Errorf("connect to deck host: %w", err)
	}

	dh.conn = conn

	if err := dh.send(ctx, outboundEvent{Event: dh.registerEvent, UUID: dh.pluginUUID}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "registration failed")
		return fmt.Errorf("register with deck host: %w", err)
	}

	dh.logger.Infow("Registered with deck host", "port", dh.port)

	return nil
}

// Run consumes host events until the session dies or ctx is cancelled.
// Events that may block (commands, rotations) are dispatched on their own
// goroutines; dial press state changes run inline so a press and the
// rotation that follows it keep their delivery order
func (dh *DeckHost) Run(ctx context.Context) error {
	for {
		var event hostEvent
		if err := wsjson.Read(ctx, dh.conn, &event); err != nil {
			dh.logger.Infow("Deck host session ended", "error", err)
			return fmt.Errorf("read deck host event: %w", err)
		}

		dh.dispatch(ctx, event)
	}
}

func (dh *DeckHost) dispatch(ctx context.Context, event hostEvent) {
	switch event.Event {
	case "willAppear":
		dh.setVisible(event.Action, event.Context, true)
	case "willDisappear":
		dh.setVisible(event.Action, event.Context, false)
	}

	dh.handlersMu.Lock()
	handler, ok := dh.handlers[event.Action]
	dh.handlersMu.Unlock()

	if !ok {
		return
	}

	switch event.Event {
	case "willAppear":
		go handler.WillAppear(ctx, event.Context)
	case "willDisappear":
		go handler.WillDisappear(ctx, event.Context)
	case "keyUp":
		go handler.KeyUp(ctx, event.Context)
	case "dialRotate":
		var payload dialPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			// malformed payload - drop this one event and keep going
			dh.logger.Warnw("Failed to decode dial rotation payload", "error", err)
			return
		}

		go handler.DialRotate(ctx, event.Context, payload.Ticks)
	case "dialDown":
		// handled inline: the press state must be visible to a rotation
		// arriving right behind it, and press handlers never block
		handler.DialDown(ctx, event.Context)
	case "dialUp":
		handler.DialUp(ctx, event.Context)
	}
}

func (dh *DeckHost) setVisible(actionUUID string, instanceID string, visible bool) {
	dh.visibleMu.Lock()
	defer dh.visibleMu.Unlock()

	instances, ok := dh.visible[actionUUID]
	if !ok {
		instances = make(map[string]bool)
		dh.visible[actionUUID] = instances
	}

	if visible {
		instances[instanceID] = true
	} else {
		delete(instances, instanceID)
	}
}

// VisibleInstances returns the instance contexts currently visible for an action
func (dh *DeckHost) VisibleInstances(actionUUID string) []string {
	dh.visibleMu.Lock()
	defer dh.visibleMu.Unlock()

	instances := []string{}
	for instanceID := range dh.visible[actionUUID] {
		instances = append(instances, instanceID)
	}

	return instances
}

// SetImage pushes an image payload to one surface instance; an empty image
// clears it back to the action's default visual
func (dh *DeckHost) SetImage(instanceID string, image string) error {
	return dh.send(context.Background(), outboundEvent{
		Event:   "setImage",
		Context: instanceID,
		Payload: setImagePayload{Image: image},
	})
}

func (dh *DeckHost) send(ctx context.Context, event outboundEvent) error {
	dh.writeMu.Lock()
	defer dh.writeMu.Unlock()

	if err := wsjson.Write(ctx, dh.conn, event); err != nil {
		return fmt.Errorf("write deck host event: %w", err)
	}

	return nil
}

// Close tears the host session down
func (dh *DeckHost) Close() {
	if dh.conn != nil {
		_ = dh.conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}
