package main

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/abihf/blinkgate"
	"github.com/abihf/blinkgate/protocol"
	"github.com/abihf/blinkgate/server"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var cameraOn bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the attendance daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&cameraOn, "camera-on", false, "Turn the camera on at startup")
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	if isAlreadyRun(conf.PidFile) {
		return errors.New("already run")
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := blinkgate.NewService(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "Can not initialize service")
	}
	defer svc.Close()

	for _, dir := range []string{filepath.Dir(conf.PidFile), filepath.Dir(conf.Socket)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "Can not create %s", dir)
		}
	}

	if err := writeLockFile(conf.PidFile); err != nil {
		return errors.Wrap(err, "Can not write pid file")
	}
	defer os.Remove(conf.PidFile)

	ctrl := svc.Controller
	runCtx, stopRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		ctrl.Run(runCtx)
	}()
	defer func() {
		stopRun()
		<-runDone
	}()

	os.Remove(conf.Socket)

	ln, err := net.Listen("unix", conf.Socket)
	if err != nil {
		return errors.Wrap(err, "Listen error")
	}
	defer ln.Close()

	os.Chmod(conf.Socket, 0666)

	go func() {
		for {
			fd, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Error("Accept error", "error", err)
				}
				return
			}

			go handle(runCtx, ctrl, fd)
		}
	}()

	var httpServer *server.Server
	if conf.HTTPAddr != "" {
		httpServer = server.New(conf.HTTPAddr, ctrl, svc.History(), logger.With("component", "http"))
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error("HTTP server failed", "error", err)
				cancel()
			}
		}()
	}

	if cameraOn {
		if err := ctrl.Start(ctx); err != nil {
			logger.Error("Can not turn the camera on", "error", err)
		}
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Info("Ready", "socket", conf.Socket, "http", conf.HTTPAddr, "device_id", conf.DeviceID)

	<-ctx.Done()
	logger.Info("Shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if httpServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", "error", err)
		}
	}
	return nil
}

// handle serves one socket client until it hangs up.
func handle(ctx context.Context, gate server.Gate, c net.Conn) {
	defer c.Close()
	conn := protocol.NewConn(c)

	for {
		req, err := conn.ReadReq()
		if err != nil {
			if err != io.EOF {
				logger.Warn("Can not read request", "error", err)
			}
			return
		}

		switch req.Action {
		case protocol.ActionStart:
			err = gate.Start(ctx)
		case protocol.ActionStop:
			err = gate.Stop(ctx)
		case protocol.ActionStatus:
		default:
			err = errors.Errorf("unknown action %q", req.Action)
		}

		if err != nil {
			logger.Warn("Request failed", "action", req.Action, "error", err)
			err = conn.WriteErrorRes(err)
		} else {
			state := gate.State()
			err = conn.WriteSuccessRes(&state)
		}
		if err != nil {
			logger.Warn("Can not write response", "error", err)
			return
		}
	}
}
