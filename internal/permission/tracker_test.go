package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/schoolpush/internal/logging"
	"github.com/dukerupert/schoolpush/internal/model"
)

type fakePlatform struct {
	mu        sync.Mutex
	supported bool
	state     model.PermissionState
	answer    model.PermissionState
	err       error
	block     bool
	requests  int
	watcher   func(model.PermissionState)
	stopped   bool
}

func (f *fakePlatform) Supported() bool { return f.supported }

func (f *fakePlatform) State() model.PermissionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakePlatform) RequestPermission(ctx context.Context) (model.PermissionState, error) {
	f.mu.Lock()
	f.requests++
	block, answer, err := f.block, f.answer, f.err
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return answer, err
}

func (f *fakePlatform) Watch(fn func(model.PermissionState)) func() {
	f.mu.Lock()
	f.watcher = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.stopped = true
		f.watcher = nil
		f.mu.Unlock()
	}
}

func (f *fakePlatform) emit(s model.PermissionState) {
	f.mu.Lock()
	fn := f.watcher
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func TestUnsupportedIsUnknown(t *testing.T) {
	tr := NewTracker(&fakePlatform{supported: false}, logging.Discard())
	tr.Start()
	if got := tr.Current(); got != model.PermissionUnknown {
		t.Errorf("current = %q, want %q", got, model.PermissionUnknown)
	}
	if got := tr.Request(context.Background()); got != model.PermissionDenied {
		t.Errorf("request = %q, want %q", got, model.PermissionDenied)
	}
	if tr.Current() != model.PermissionUnknown {
		t.Error("unknown must stay terminal")
	}
}

func TestNilPlatform(t *testing.T) {
	tr := NewTracker(nil, logging.Discard())
	tr.Start()
	defer tr.Stop()
	if got := tr.Current(); got != model.PermissionUnknown {
		t.Errorf("current = %q, want %q", got, model.PermissionUnknown)
	}
}

func TestRequestFromDefault(t *testing.T) {
	tests := []struct {
		name   string
		answer model.PermissionState
		err    error
		want   model.PermissionState
	}{
		{"granted", model.PermissionGranted, nil, model.PermissionGranted},
		{"denied", model.PermissionDenied, nil, model.PermissionDenied},
		{"platform error", "", errors.New("boom"), model.PermissionDenied},
		{"unexpected value", model.PermissionDefault, nil, model.PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePlatform{supported: true, state: model.PermissionDefault, answer: tt.answer, err: tt.err}
			tr := NewTracker(p, logging.Discard())

			if got := tr.Request(context.Background()); got != tt.want {
				t.Errorf("request = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestErrorLeavesStateDefault(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionDefault, err: errors.New("boom")}
	tr := NewTracker(p, logging.Discard())
	tr.Request(context.Background())
	if got := tr.Current(); got != model.PermissionDefault {
		t.Errorf("current = %q, want %q", got, model.PermissionDefault)
	}
}

func TestRequestUnresolvedTimesOut(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionDefault, block: true}
	tr := NewTracker(p, logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if got := tr.Request(ctx); got != model.PermissionDenied {
		t.Errorf("request = %q, want %q", got, model.PermissionDenied)
	}
}

func TestRequestDoesNotPromptTwice(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionDefault, answer: model.PermissionGranted}
	tr := NewTracker(p, logging.Discard())

	tr.Request(context.Background())
	tr.Request(context.Background())

	if p.requests != 1 {
		t.Errorf("platform requests = %d, want 1", p.requests)
	}
}

func TestSubscribeAndDispose(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionDefault}
	tr := NewTracker(p, logging.Discard())
	tr.Start()
	defer tr.Stop()

	var got []model.PermissionState
	sub := tr.Subscribe(func(s model.PermissionState) { got = append(got, s) })

	p.emit(model.PermissionGranted)
	p.emit(model.PermissionGranted)
	p.emit(model.PermissionDefault)

	sub.Dispose()
	sub.Dispose()
	p.emit(model.PermissionDenied)

	want := []model.PermissionState{model.PermissionGranted, model.PermissionDefault}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if tr.Current() != model.PermissionDenied {
		t.Errorf("current = %q, want %q", tr.Current(), model.PermissionDenied)
	}
}

func TestStopDetachesWatch(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionGranted}
	tr := NewTracker(p, logging.Discard())
	tr.Start()
	tr.Stop()

	if !p.stopped {
		t.Error("expected platform watch to be stopped")
	}
}

func TestExternalUnknownIsTerminal(t *testing.T) {
	p := &fakePlatform{supported: true, state: model.PermissionDefault}
	tr := NewTracker(p, logging.Discard())
	tr.Start()
	defer tr.Stop()

	var got []model.PermissionState
	sub := tr.Subscribe(func(s model.PermissionState) { got = append(got, s) })
	defer sub.Dispose()

	p.emit(model.PermissionUnknown)
	p.emit(model.PermissionGranted)

	if tr.Current() != model.PermissionUnknown {
		t.Errorf("current = %q, want %q", tr.Current(), model.PermissionUnknown)
	}
	if len(got) != 1 || got[0] != model.PermissionUnknown {
		t.Errorf("notifications = %v, want [unknown]", got)
	}
}
