package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/abihf/blinkgate/protocol"
	"github.com/abihf/blinkgate/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGate struct {
	state    session.State
	startErr error
	calls    []string
}

func (g *fakeGate) State() session.State { return g.state }

func (g *fakeGate) Start(ctx context.Context) error {
	g.calls = append(g.calls, "start")
	if g.startErr != nil {
		return g.startErr
	}
	g.state.CameraOn = true
	g.state.Message = "Camera on"
	return nil
}

func (g *fakeGate) Stop(ctx context.Context) error {
	g.calls = append(g.calls, "stop")
	g.state.CameraOn = false
	g.state.Message = "Camera off"
	return nil
}

func TestHandle(t *testing.T) {
	gate := &fakeGate{state: session.State{Status: session.StatusIdle, Message: "Please turn on the camera"}}
	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handle(context.Background(), gate, srv)
	}()

	conn := protocol.NewConn(client)

	res, err := conn.Call(protocol.ActionStatus)
	if err != nil {
		t.Fatalf("STATUS error = %v", err)
	}
	if res.Status != protocol.StatusSuccess || res.State.Message != "Please turn on the camera" {
		t.Errorf("STATUS = %+v", res)
	}

	res, err = conn.Call(protocol.ActionStart)
	if err != nil {
		t.Fatalf("START error = %v", err)
	}
	if !res.State.CameraOn || res.State.Message != "Camera on" {
		t.Errorf("START state = %+v", res.State)
	}

	res, err = conn.Call(protocol.ActionStop)
	if err != nil {
		t.Fatalf("STOP error = %v", err)
	}
	if res.State.CameraOn {
		t.Errorf("STOP state = %+v", res.State)
	}

	res, err = conn.Call("REBOOT")
	if err != nil {
		t.Fatalf("unknown action error = %v", err)
	}
	if res.Status != protocol.StatusError || !strings.Contains(res.Error, "REBOOT") {
		t.Errorf("unknown action = %+v", res)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handle did not return after the client hung up")
	}
	if strings.Join(gate.calls, ",") != "start,stop" {
		t.Errorf("calls = %v", gate.calls)
	}
}

func TestHandleStartError(t *testing.T) {
	gate := &fakeGate{startErr: errors.New("open /dev/video0: no such device")}
	client, srv := net.Pipe()
	defer client.Close()
	go handle(context.Background(), gate, srv)

	res, err := protocol.NewConn(client).Call(protocol.ActionStart)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if res.Status != protocol.StatusError || res.Error != "open /dev/video0: no such device" {
		t.Errorf("res = %+v", res)
	}
	if res.State != nil {
		t.Errorf("error response carries state %+v", res.State)
	}
}

func TestLockFile(t *testing.T) {
	dir := t.TempDir()

	if isAlreadyRun(filepath.Join(dir, "missing.pid")) {
		t.Error("missing pid file reported as running")
	}

	own := filepath.Join(dir, "own.pid")
	if err := writeLockFile(own); err != nil {
		t.Fatalf("writeLockFile() error = %v", err)
	}
	data, err := os.ReadFile(own)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file = %q", data)
	}
	if !isAlreadyRun(own) {
		t.Error("own pid not reported as running")
	}

	garbage := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(garbage, []byte("not a pid"), 0o600); err != nil {
		t.Fatal(err)
	}
	if isAlreadyRun(garbage) {
		t.Error("garbage pid file reported as running")
	}
}

func TestPrintState(t *testing.T) {
	var buf bytes.Buffer
	printState(&buf, &session.State{
		Status:      session.StatusAwaitingBlink,
		Message:     "Please blink to verify",
		CameraOn:    true,
		FacePresent: true,
		Ratio:       0.312,
		Threshold:   0.25,
	})

	out := buf.String()
	for _, want := range []string{"Status: awaiting_blink", "Message: Please blink to verify", "Camera: on", "Eye ratio: 0.312 (threshold 0.25)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintLogs(t *testing.T) {
	var buf bytes.Buffer
	printLogs(&buf, nil)
	if strings.TrimSpace(buf.String()) != "No entries" {
		t.Errorf("empty log output = %q", buf.String())
	}

	buf.Reset()
	printLogs(&buf, []session.Entry{
		{ID: uuid.New(), Timestamp: time.Now(), Outcome: session.OutcomeSuccess, Message: "Hello: Ana"},
		{ID: uuid.New(), Timestamp: time.Now(), Outcome: session.OutcomeError, Message: "Server connection error: timeout"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "success") || !strings.Contains(lines[0], "Hello: Ana") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Server connection error: timeout") {
		t.Errorf("line 1 = %q", lines[1])
	}
}
