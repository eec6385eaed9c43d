// Package bridge exposes the connected web page as the platform: its
// notification permission API, its push provider, its focus state and its
// foreground message channel.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/prompt"
	"github.com/dukerupert/schoolpush/internal/websocket"
)

// Frame types sent by the page.
const (
	FrameHello        = "hello"
	FramePermission   = "permission"
	FrameFocus        = "focus"
	FrameMessage      = "message"
	FrameReply        = "reply"
	FrameEnable       = "prompt_enable"
	FrameDismiss      = "prompt_dismiss"
	FrameToastDismiss = "toast_dismiss"
	FrameToastClick   = "toast_click"
)

// Frame types sent to the page.
const (
	FrameRequestPermission = "request_permission"
	FrameAcquireToken      = "acquire_token"
	FrameEnableResult      = "enable_result"
)

// ErrNoPage means no page is connected to answer a request.
var ErrNoPage = errors.New("no page connected")

// Actions are the user actions a page can trigger.
type Actions interface {
	Enable(ctx context.Context) prompt.EnableResult
	Dismiss(permanent bool)
	DismissToast(id string)
	ClickToast(id string) bool
}

type pageState struct {
	focused bool
}

type helloData struct {
	Permission string `json:"permission"`
	Focused    bool   `json:"focused"`
}

type replyData struct {
	State string `json:"state,omitempty"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// Host implements the platform contracts on top of the websocket hub.
type Host struct {
	hub    *websocket.Hub
	logger *slog.Logger

	// ctx bounds actions started from frames.
	ctx context.Context

	mu          sync.Mutex
	pages       map[*websocket.Client]*pageState
	primary     *websocket.Client
	unsupported bool
	permission  model.PermissionState
	watchers    map[int]func(model.PermissionState)
	foreground  map[int]func(model.RawPayload)
	nextID      int
	pending     map[string]chan replyData
	actions     Actions
}

// NewHost installs itself as the hub's frame handler.
func NewHost(ctx context.Context, hub *websocket.Hub, logger *slog.Logger) *Host {
	h := &Host{
		hub:        hub,
		logger:     logger.With("component", "bridge"),
		ctx:        ctx,
		pages:      make(map[*websocket.Client]*pageState),
		permission: model.PermissionDefault,
		watchers:   make(map[int]func(model.PermissionState)),
		foreground: make(map[int]func(model.RawPayload)),
		pending:    make(map[string]chan replyData),
	}
	hub.SetHandler(h)
	return h
}

// SetActions wires page-triggered actions.
func (h *Host) SetActions(a Actions) {
	h.mu.Lock()
	h.actions = a
	h.mu.Unlock()
}

// Supported is false only once a page has reported that it has no
// notification API.
func (h *Host) Supported() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.unsupported
}

func (h *Host) State() model.PermissionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unsupported {
		return model.PermissionUnknown
	}
	return h.permission
}

func (h *Host) Watch(fn func(model.PermissionState)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.watchers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

// Focused reports whether any connected page has focus.
func (h *Host) Focused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.pages {
		if p.focused {
			return true
		}
	}
	return false
}

func (h *Host) OnForegroundMessage(fn func(model.RawPayload)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.foreground[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.foreground, id)
		h.mu.Unlock()
	}
}

// RequestPermission shows the browser's permission prompt on the primary page.
func (h *Host) RequestPermission(ctx context.Context) (model.PermissionState, error) {
	reply, err := h.call(ctx, FrameRequestPermission, nil)
	if err != nil {
		return "", err
	}
	state := model.ParsePermission(reply.State)
	h.setPermission(state)
	return state, nil
}

// AcquireToken asks the page's push provider for a device token.
func (h *Host) AcquireToken(ctx context.Context, credentialKey, receiverHandle string) (string, error) {
	reply, err := h.call(ctx, FrameAcquireToken, map[string]string{
		"credential_key":  credentialKey,
		"receiver_handle": receiverHandle,
	})
	if err != nil {
		return "", err
	}
	return reply.Token, nil
}

func (h *Host) call(ctx context.Context, typ string, data any) (replyData, error) {
	id := uuid.NewString()
	msg, err := websocket.NewMessage(typ, id, data)
	if err != nil {
		return replyData{}, err
	}

	ch := make(chan replyData, 1)
	h.mu.Lock()
	target := h.primary
	if target != nil {
		h.pending[id] = ch
	}
	h.mu.Unlock()
	if target == nil {
		return replyData{}, ErrNoPage
	}
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if !h.hub.Send(target, msg) {
		return replyData{}, fmt.Errorf("%s: %w", typ, ErrNoPage)
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return replyData{}, fmt.Errorf("%s: %s", typ, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return replyData{}, ctx.Err()
	}
}

// HandleFrame runs on the client's read pump and must not block on page I/O.
func (h *Host) HandleFrame(c *websocket.Client, msg websocket.Message) {
	switch msg.Type {
	case FrameHello:
		var d helloData
		if !h.decode(msg, &d) {
			return
		}
		h.reportPermission(d.Permission)
		h.mu.Lock()
		h.pages[c] = &pageState{focused: d.Focused}
		h.primary = c
		h.mu.Unlock()

	case FramePermission:
		var d struct {
			State string `json:"state"`
		}
		if h.decode(msg, &d) {
			h.reportPermission(d.State)
		}

	case FrameFocus:
		var d struct {
			Focused bool `json:"focused"`
		}
		if !h.decode(msg, &d) {
			return
		}
		h.mu.Lock()
		p, ok := h.pages[c]
		if !ok {
			p = &pageState{}
			h.pages[c] = p
		}
		p.focused = d.Focused
		if d.Focused {
			h.primary = c
		}
		h.mu.Unlock()

	case FrameMessage:
		var raw model.RawPayload
		if !h.decode(msg, &raw) {
			return
		}
		h.mu.Lock()
		fns := make([]func(model.RawPayload), 0, len(h.foreground))
		for _, fn := range h.foreground {
			fns = append(fns, fn)
		}
		h.mu.Unlock()
		for _, fn := range fns {
			fn(raw)
		}

	case FrameReply:
		var d replyData
		if !h.decode(msg, &d) {
			return
		}
		h.mu.Lock()
		ch, ok := h.pending[msg.ID]
		h.mu.Unlock()
		if ok {
			select {
			case ch <- d:
			default:
			}
		}

	case FrameEnable:
		a := h.currentActions()
		if a == nil {
			return
		}
		go func() {
			res := a.Enable(h.ctx)
			reply, err := websocket.NewMessage(FrameEnableResult, msg.ID, res)
			if err == nil {
				h.hub.Send(c, reply)
			}
		}()

	case FrameDismiss:
		var d struct {
			Permanent bool `json:"permanent"`
		}
		if a := h.currentActions(); a != nil && h.decode(msg, &d) {
			a.Dismiss(d.Permanent)
		}

	case FrameToastDismiss, FrameToastClick:
		var d struct {
			ID string `json:"id"`
		}
		a := h.currentActions()
		if a == nil || !h.decode(msg, &d) {
			return
		}
		if msg.Type == FrameToastClick {
			a.ClickToast(d.ID)
		} else {
			a.DismissToast(d.ID)
		}

	default:
		h.logger.Debug("unhandled frame", "type", msg.Type, "client", c.ID())
	}
}

func (h *Host) HandleDisconnect(c *websocket.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pages, c)
	if h.primary == c {
		h.primary = nil
		for other := range h.pages {
			h.primary = other
			break
		}
	}
}

func (h *Host) currentActions() Actions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actions
}

func (h *Host) decode(msg websocket.Message, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		h.logger.Debug("malformed frame data", "type", msg.Type, "error", err)
		return false
	}
	return true
}

func (h *Host) reportPermission(raw string) {
	if raw == "" {
		return
	}
	if raw == "unsupported" {
		h.mu.Lock()
		if h.unsupported {
			h.mu.Unlock()
			return
		}
		h.unsupported = true
		fns := h.watcherFuncsLocked()
		h.mu.Unlock()

		for _, fn := range fns {
			fn(model.PermissionUnknown)
		}
		return
	}
	h.setPermission(model.ParsePermission(raw))
}

func (h *Host) setPermission(state model.PermissionState) {
	if state == model.PermissionUnknown {
		return
	}
	h.mu.Lock()
	if h.permission == state {
		h.mu.Unlock()
		return
	}
	h.permission = state
	fns := h.watcherFuncsLocked()
	h.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (h *Host) watcherFuncsLocked() []func(model.PermissionState) {
	fns := make([]func(model.PermissionState), 0, len(h.watchers))
	for _, fn := range h.watchers {
		fns = append(fns, fn)
	}
	return fns
}
