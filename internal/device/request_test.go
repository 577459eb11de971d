package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueRequest_FIFO(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	r1, err := d.QueueRequest(OpRead, 0, make([]byte, 4))
	if err != nil {
		t.Fatalf("QueueRequest(r1) error = %v", err)
	}
	r2, err := d.QueueRequest(OpWrite, 512, make([]byte, 4))
	if err != nil {
		t.Fatalf("QueueRequest(r2) error = %v", err)
	}

	if got := drv.nextStarted(t); got != r1 {
		t.Fatal("first started request is not r1")
	}
	if r1.State() != StateInProgress {
		t.Errorf("r1 state = %v, want in_progress", r1.State())
	}
	if r2.State() != StateQueued {
		t.Errorf("r2 state = %v, want queued while r1 is in flight", r2.State())
	}
	drv.assertNotStarted(t)

	completeAndAdvance(t, r1, 4, nil)

	if got := drv.nextStarted(t); got != r2 {
		t.Fatal("second started request is not r2")
	}
	if r2.State() != StateInProgress {
		t.Errorf("r2 state = %v, want in_progress", r2.State())
	}
	completeAndAdvance(t, r2, 4, nil)

	if s := d.Stats(); s.RequestsCompleted != 2 || s.Queued != 0 {
		t.Errorf("Stats() = %+v, want 2 completed, 0 queued", s)
	}
}

func TestQueueRequest_Validation(t *testing.T) {
	reg := NewRegistry()
	blk := mustDevice(t, reg, 3, 0, "ram0", newManualDriver())
	chr := mustDevice(t, reg, 1, 3, "null", newMemDriver())

	if _, err := chr.QueueRequest(OpRead, 0, make([]byte, 1)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("QueueRequest on sync device error = %v, want ErrUnsupported", err)
	}
	if _, err := blk.QueueRequest(Operation("erase"), 0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("QueueRequest(erase) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := blk.QueueRequest(OpRead, -1, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("QueueRequest(-1) error = %v, want ErrInvalidArgument", err)
	}
}

func TestProcessNextQueuedRequest_RejectsBadTokens(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)
	other := mustDevice(t, reg, 3, 1, "ram1", newManualDriver())

	if err := d.ProcessNextQueuedRequest(CompletionToken{}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("zero token error = %v, want ErrInvalidToken", err)
	}

	r1, _ := d.QueueRequest(OpRead, 0, make([]byte, 2))
	drv.nextStarted(t)

	// Completing a request that is not in progress yields no token.
	r2, _ := d.QueueRequest(OpRead, 0, make([]byte, 2))
	if err := d.ProcessNextQueuedRequest(r2.Complete(2, nil)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token for queued request error = %v, want ErrInvalidToken", err)
	}

	tok := r1.Complete(2, nil)
	if err := other.ProcessNextQueuedRequest(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token on wrong device error = %v, want ErrInvalidToken", err)
	}
	if err := d.ProcessNextQueuedRequest(tok); err != nil {
		t.Fatalf("valid token error = %v", err)
	}
	if err := d.ProcessNextQueuedRequest(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("replayed token error = %v, want ErrInvalidToken", err)
	}

	// A second Complete on a finished request yields no token either.
	if err := d.ProcessNextQueuedRequest(r1.Complete(2, nil)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("double Complete error = %v, want ErrInvalidToken", err)
	}
	completeAndAdvance(t, drv.nextStarted(t), 2, nil)
}

func TestCancel_Queued(t *testing.T) {
	reg := NewRegistry()
	obs := &recordingObserver{}
	reg.SetObserver(obs)
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	r1, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	r2, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	r3, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	drv.nextStarted(t)

	if !r2.Cancel() {
		t.Fatal("Cancel() = false for a queued request")
	}
	if r2.State() != StateCancelled {
		t.Errorf("r2 state = %v, want cancelled", r2.State())
	}
	if _, err := r2.Result(); !errors.Is(err, ErrRequestCancelled) {
		t.Errorf("r2 Result() error = %v, want ErrRequestCancelled", err)
	}
	if r2.Cancel() {
		t.Error("Cancel() = true for a finished request")
	}

	completeAndAdvance(t, r1, 1, nil)
	if got := drv.nextStarted(t); got != r3 {
		t.Fatal("cancelled request was started")
	}
	completeAndAdvance(t, r3, 1, nil)

	s := d.Stats()
	if s.RequestsCancelled != 1 || s.RequestsCompleted != 2 {
		t.Errorf("Stats() = %+v", s)
	}
	if _, _, fin, _ := obs.counts(); fin != 3 {
		t.Errorf("RequestFinished events = %d, want 3", fin)
	}
}

func TestCancel_QueuedReleasesSlot(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	r1, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	r2, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	r3, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	drv.nextStarted(t)

	if !r3.Cancel() || !r2.Cancel() {
		t.Fatal("Cancel() = false for a queued request")
	}

	d.mu.Lock()
	n := len(d.queue)
	backing := d.queue[:cap(d.queue)]
	d.mu.Unlock()
	if n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	for i := n; i < len(backing); i++ {
		if backing[i] != nil {
			t.Errorf("backing slot %d still references request %s", i, backing[i].ID())
		}
	}

	completeAndAdvance(t, r1, 1, nil)
}

func TestCancel_InProgress(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		err       error
		wantState RequestState
		wantErr   error
	}{
		{"nothing transferred", 0, nil, StateCancelled, ErrRequestCancelled},
		{"partial transfer", 3, nil, StateFailed, ErrRequestFailed},
		{"finished anyway", 8, nil, StateCompleted, nil},
		{"driver error", 0, errors.New("media error"), StateFailed, ErrRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			drv := newManualDriver()
			d := mustDevice(t, reg, 3, 0, "ram0", drv)

			req, _ := d.QueueRequest(OpWrite, 0, make([]byte, 8))
			drv.nextStarted(t)

			if !req.Cancel() {
				t.Fatal("Cancel() = false for in-progress request")
			}
			if req.State() != StateInProgress {
				t.Fatalf("state = %v, want in_progress until the driver completes", req.State())
			}
			if !req.CancelRequested() {
				t.Fatal("CancelRequested() = false")
			}

			completeAndAdvance(t, req, tt.n, tt.err)

			if req.State() != tt.wantState {
				t.Errorf("state = %v, want %v", req.State(), tt.wantState)
			}
			_, err := req.Result()
			if tt.wantErr == nil && err != nil {
				t.Errorf("Result() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Result() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_FailedWrapsCause(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)
	cause := errors.New("bad sector")

	req, _ := d.QueueRequest(OpRead, 0, make([]byte, 8))
	if _, err := req.Result(); !errors.Is(err, ErrRequestPending) {
		t.Errorf("Result() before completion error = %v, want ErrRequestPending", err)
	}
	completeAndAdvance(t, drv.nextStarted(t), 0, cause)

	_, err := req.Result()
	if !errors.Is(err, ErrRequestFailed) || !errors.Is(err, cause) {
		t.Errorf("Result() error = %v, want ErrRequestFailed wrapping cause", err)
	}
	info := req.Info()
	if info.Error != "bad sector" || info.FinishedAt == nil || info.StartedAt == nil {
		t.Errorf("Info() = %+v", info)
	}
}

func TestRequest_WaitTimeout(t *testing.T) {
	reg := NewRegistry()
	d := mustDevice(t, reg, 3, 0, "ram0", newManualDriver())

	req, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	if err := req.Wait(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrTimedOut) {
		t.Errorf("Wait() error = %v, want ErrTimedOut", err)
	}
}

func TestRequest_WaitWakesOnCompletion(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	req, _ := d.QueueRequest(OpRead, 0, make([]byte, 4))
	go func() {
		started := <-drv.started
		time.Sleep(10 * time.Millisecond)
		copy(started.Buffer(), "data")
		started.Device().ProcessNextQueuedRequest(started.Complete(4, nil))
	}()

	if err := req.Wait(context.Background(), time.Second); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	n, err := req.Result()
	if n != 4 || err != nil {
		t.Errorf("Result() = %d, %v; want 4, nil", n, err)
	}
}

func TestDevice_ReadThroughQueue(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	go func() {
		req := <-drv.started
		if req.Op() != OpRead || req.Offset() != 1024 {
			req.Device().ProcessNextQueuedRequest(req.Complete(0, errors.New("unexpected request")))
			return
		}
		n := copy(req.Buffer(), "block")
		req.Device().ProcessNextQueuedRequest(req.Complete(n, nil))
	}()

	p := make([]byte, 5)
	n, err := d.Read(context.Background(), nil, 1024, p)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(p[:n]) != "block" {
		t.Errorf("Read() = %q, want %q", p[:n], "block")
	}
}

func TestDevice_ReadInterruptedCancelsRequest(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	// Occupy the queue so the read stays queued.
	head, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	drv.nextStarted(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := d.Read(ctx, nil, 0, make([]byte, 1))
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Read() error = %v, want ErrInterrupted", err)
	}

	completeAndAdvance(t, head, 1, nil)
	drv.assertNotStarted(t)
	if s := d.Stats(); s.RequestsCancelled != 1 {
		t.Errorf("RequestsCancelled = %d, want 1", s.RequestsCancelled)
	}
}

func TestDevice_CloseCancelsQueued(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d, err := NewDevice(reg, Config{Major: 3, Minor: 0, Name: "ram0"}, drv)
	if err != nil {
		t.Fatal(err)
	}

	r1, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	r2, _ := d.QueueRequest(OpRead, 0, make([]byte, 1))
	drv.nextStarted(t)

	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if r2.State() != StateCancelled {
		t.Errorf("queued request state = %v, want cancelled", r2.State())
	}
	if !r1.CancelRequested() {
		t.Error("in-flight request not flagged for cancellation")
	}
	if !drv.closed.Load() {
		t.Error("driver not closed")
	}
	if _, err := d.QueueRequest(OpRead, 0, make([]byte, 1)); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("QueueRequest() after Close error = %v, want ErrDeviceClosed", err)
	}

	// The in-flight request still completes through the normal path.
	completeAndAdvance(t, r1, 0, nil)
	if r1.State() != StateCancelled {
		t.Errorf("in-flight request state = %v, want cancelled", r1.State())
	}
	drv.assertNotStarted(t)
}

func TestDevice_Requests(t *testing.T) {
	reg := NewRegistry()
	drv := newManualDriver()
	d := mustDevice(t, reg, 3, 0, "ram0", drv)

	d.QueueRequest(OpRead, 0, make([]byte, 1))
	d.QueueRequest(OpWrite, 0, make([]byte, 2))

	infos := d.Requests()
	if len(infos) != 2 {
		t.Fatalf("len(Requests()) = %d, want 2", len(infos))
	}
	if infos[0].State != StateInProgress || infos[1].State != StateQueued {
		t.Errorf("states = %v, %v", infos[0].State, infos[1].State)
	}
	if infos[1].Op != OpWrite || infos[1].Length != 2 {
		t.Errorf("Requests()[1] = %+v", infos[1])
	}

	completeAndAdvance(t, drv.nextStarted(t), 1, nil)
	completeAndAdvance(t, drv.nextStarted(t), 2, nil)
}

func TestRequestState_String(t *testing.T) {
	tests := []struct {
		state    RequestState
		want     string
		terminal bool
	}{
		{StateQueued, "queued", false},
		{StateInProgress, "in_progress", false},
		{StateCompleted, "completed", true},
		{StateFailed, "failed", true},
		{StateCancelled, "cancelled", true},
		{RequestState(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.want, got, tt.terminal)
		}
	}
}
