// Package landmark talks to an external face mesh worker process.
//
// Requests go to the worker's stdin and responses come back on FD 3, so the
// worker can log freely to stdout and stderr. Both directions use
// [uint32 big endian length][body]. A request body starts with a kind byte.
package landmark

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/abihf/blinkgate/ear"
	"github.com/pkg/errors"
)

const (
	kindConfigure byte = 'C'
	kindFrame     byte = 'F'

	// responses larger than this mean the stream is out of sync
	maxResponseSize = 16 << 20

	closeTimeout = 3 * time.Second
)

// Options are passed to the face mesh model.
type Options struct {
	MaxFaces               int     `json:"max_num_faces"`
	RefineLandmarks        bool    `json:"refine_landmarks"`
	MinDetectionConfidence float64 `json:"min_detection_confidence"`
	MinTrackingConfidence  float64 `json:"min_tracking_confidence"`
}

// DefaultOptions tracks a single face with the refined 478 point mesh.
func DefaultOptions() Options {
	return Options{
		MaxFaces:               1,
		RefineLandmarks:        true,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}

type response struct {
	Faces [][]ear.Point `json:"faces"`
	Error string        `json:"error,omitempty"`
}

// safeCommand keeps the worker's stderr so a crash can be reported.
type safeCommand struct {
	*exec.Cmd
	stderr *bytes.Buffer
}

func newSafeCommand(name string, args ...string) *safeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &safeCommand{Cmd: cmd, stderr: stderr}
}

// Worker is a running face mesh process. It is not safe for concurrent use.
type Worker struct {
	cmd   *safeCommand
	stdin io.WriteCloser
	data  io.ReadCloser

	closed bool
	// broken is set once a request was abandoned mid stream
	broken     bool
	streamOnce sync.Once
}

// NewWorker starts command, e.g. ["python3", "-u", "facemesh_worker.py"].
func NewWorker(command []string) (*Worker, error) {
	if len(command) == 0 {
		return nil, errors.New("empty landmark worker command")
	}
	cmd := newSafeCommand(command[0], command[1:]...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipe")
	}
	// child sees the write end as FD 3
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrapf(err, "landmark worker %q failed to start", command[0])
	}
	w.Close()

	return &Worker{cmd: cmd, stdin: stdin, data: r}, nil
}

func (w *Worker) Configure(opt Options) error {
	payload, err := json.Marshal(opt)
	if err != nil {
		return errors.Wrap(err, "marshal options")
	}
	_, err = w.call(kindConfigure, payload)
	return errors.Wrap(err, "configure landmark worker")
}

// Detect returns the landmarks of every face found in a JPEG image.
// No face is an empty result, not an error.
//
// Cancelling ctx while the worker is busy closes its pipes, so the worker is
// unusable afterwards and has to be replaced.
func (w *Worker) Detect(ctx context.Context, img []byte) ([][]ear.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, w.closeStreams)
	faces, err := w.call(kindFrame, img)
	if !stop() {
		w.broken = true
		return nil, errors.Wrap(ctx.Err(), "landmark detection abandoned")
	}
	return faces, err
}

func (w *Worker) call(kind byte, payload []byte) ([][]ear.Point, error) {
	if w.closed {
		return nil, errors.New("landmark worker closed")
	}
	if w.broken {
		return nil, errors.New("landmark worker stream out of sync")
	}

	body, err := w.roundTrip(kind, payload)
	if err != nil {
		return nil, w.withStderr(err)
	}

	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "malformed landmark response")
	}
	if res.Error != "" {
		return nil, errors.Errorf("landmark worker error: %s", res.Error)
	}
	return res.Faces, nil
}

func (w *Worker) roundTrip(kind byte, payload []byte) ([]byte, error) {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(payload)+1))
	header[4] = kind
	if _, err := w.stdin.Write(header); err != nil {
		return nil, errors.Wrap(err, "write request header")
	}
	if _, err := w.stdin.Write(payload); err != nil {
		return nil, errors.Wrap(err, "write request body")
	}

	if _, err := io.ReadFull(w.data, header[:4]); err != nil {
		return nil, errors.Wrap(err, "read response header")
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > maxResponseSize {
		return nil, errors.Errorf("response of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(w.data, body); err != nil {
		return nil, errors.Wrap(err, "read response body")
	}
	return body, nil
}

func (w *Worker) withStderr(err error) error {
	if w.cmd == nil || w.cmd.stderr.Len() == 0 {
		return err
	}
	return errors.Wrapf(err, "worker stderr: %s", w.cmd.stderr.String())
}

func (w *Worker) closeStreams() {
	w.streamOnce.Do(func() {
		w.stdin.Close()
		w.data.Close()
	})
}

// Close ends the worker. The process gets closeTimeout to exit after stdin closes.
func (w *Worker) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.closeStreams()
	if w.cmd == nil || w.cmd.Process == nil {
		return nil
	}

	waited := make(chan error, 1)
	go func() { waited <- w.cmd.Wait() }()

	select {
	case err := <-waited:
		if err != nil {
			return w.withStderr(errors.Wrap(err, "landmark worker exited"))
		}
		return nil
	case <-time.After(closeTimeout):
		w.cmd.Process.Kill()
		<-waited
		return errors.New("landmark worker did not exit, killed")
	}
}
