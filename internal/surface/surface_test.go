package surface

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukerupert/schoolpush/internal/logging"
	"github.com/dukerupert/schoolpush/internal/model"
	"github.com/dukerupert/schoolpush/internal/websocket"
)

type recordingHub struct {
	clients int
	frames  []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) { h.frames = append(h.frames, msg) }
func (h *recordingHub) ClientCount() int                { return h.clients }

func TestFrames(t *testing.T) {
	hub := &recordingHub{clients: 1}
	s := New(hub, logging.Discard())

	s.ShowToast(model.Toast{ID: "t1", Title: "Exam", SourceType: model.SourceExam})
	s.DismissToast("t1")
	s.SetBanner(true)
	s.Navigate("/exams/1")
	s.PublishSnapshot(model.Snapshot{Authenticated: true})

	wantTypes := []string{FrameToast, FrameToastDismiss, FrameBanner, FrameNavigate, FrameState}
	if len(hub.frames) != len(wantTypes) {
		t.Fatalf("frames = %d, want %d", len(hub.frames), len(wantTypes))
	}
	for i, want := range wantTypes {
		if hub.frames[i].Type != want {
			t.Errorf("frame[%d] = %q, want %q", i, hub.frames[i].Type, want)
		}
	}

	var banner BannerData
	json.Unmarshal(hub.frames[2].Data, &banner)
	if !banner.Visible {
		t.Error("banner frame not visible")
	}

	var nav map[string]string
	json.Unmarshal(hub.frames[3].Data, &nav)
	if nav["url"] != "/exams/1" {
		t.Errorf("url = %q, want %q", nav["url"], "/exams/1")
	}
}

func TestNotify(t *testing.T) {
	hub := &recordingHub{}
	s := New(hub, logging.Discard())

	if err := s.Notify(context.Background(), model.PlatformNotification{Title: "x"}); !errors.Is(err, ErrNoAudience) {
		t.Errorf("err = %v, want ErrNoAudience", err)
	}

	hub.clients = 2
	if err := s.Notify(context.Background(), model.PlatformNotification{Title: "x", URL: "/a"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(hub.frames) != 1 || hub.frames[0].Type != FramePlatformNotification {
		t.Errorf("frames = %+v", hub.frames)
	}
}

func TestNotifyFrameCarriesMessageData(t *testing.T) {
	hub := &recordingHub{clients: 1}
	s := New(hub, logging.Discard())

	err := s.Notify(context.Background(), model.PlatformNotification{
		Title: "Exam", Body: "Maths on Friday", URL: "/exams/3", MessageID: "abc", Type: model.SourceExam,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	var frame PlatformNotificationData
	if err := json.Unmarshal(hub.frames[0].Data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	want := map[string]string{"url": "/exams/3", "message_id": "abc", "type": "EXAM"}
	for k, v := range want {
		if frame.Data[k] != v {
			t.Errorf("data[%s] = %q, want %q", k, frame.Data[k], v)
		}
	}
}
