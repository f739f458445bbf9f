package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"text/tabwriter"
	"time"

	"github.com/abihf/blinkgate/protocol"
	"github.com/abihf/blinkgate/recognize"
	"github.com/abihf/blinkgate/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon state and the recognition service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := call(protocol.ActionStatus)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printState(out, state)

		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		health, err := recognize.New(conf.RecognizeURL, 3*time.Second).Health(ctx)
		if err != nil {
			fmt.Fprintf(out, "Recognition: unreachable (%v)\n", err)
			return nil
		}
		fmt.Fprintf(out, "Recognition: %s %s %s\n", health.Service, health.Version, health.Status)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Turn the camera on",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := call(protocol.ActionStart)
		if err != nil {
			return err
		}
		printState(cmd.OutOrStdout(), state)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Turn the camera off",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := call(protocol.ActionStop)
		if err != nil {
			return err
		}
		printState(cmd.OutOrStdout(), state)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the attendance log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := call(protocol.ActionStatus)
		if err != nil {
			return err
		}
		printLogs(cmd.OutOrStdout(), state.Logs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, logsCmd)
}

func call(action protocol.Action) (*session.State, error) {
	c, err := net.DialTimeout("unix", conf.Socket, 2*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "Can not connect to daemon")
	}
	defer c.Close()

	res, err := protocol.NewConn(c).Call(action)
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed", action)
	}
	if res.Status != protocol.StatusSuccess {
		return nil, errors.New(res.Error)
	}
	if res.State == nil {
		return &session.State{}, nil
	}
	return res.State, nil
}

func printState(w io.Writer, s *session.State) {
	camera := "off"
	if s.CameraOn {
		camera = "on"
	}
	fmt.Fprintf(w, "Status: %s\n", s.Status)
	fmt.Fprintf(w, "Message: %s\n", s.Message)
	fmt.Fprintf(w, "Camera: %s\n", camera)
	if s.CameraOn && s.FacePresent {
		fmt.Fprintf(w, "Eye ratio: %.3f (threshold %.2f)\n", s.Ratio, s.Threshold)
	}
}

func printLogs(w io.Writer, entries []session.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Local().Format("15:04:05"), e.Outcome, e.Message)
	}
	tw.Flush()
}
