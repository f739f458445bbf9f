// Package protocol is the JSON request/response exchange on the daemon's unix socket.
// Each message is one JSON document; a connection may carry many requests.
package protocol

import (
	"encoding/json"
	"io"

	"github.com/abihf/blinkgate/session"
)

type Action string

const (
	ActionStart  Action = "START"
	ActionStop   Action = "STOP"
	ActionStatus Action = "STATUS"
)

type Req struct {
	Action Action            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

type Res struct {
	Status Status         `json:"status"`
	Error  string         `json:"error,omitempty"`
	State  *session.State `json:"state,omitempty"`
}

// Conn keeps one decoder per stream so buffered bytes of a following message are not lost.
type Conn struct {
	dec *json.Decoder
	enc *json.Encoder
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		dec: json.NewDecoder(rw),
		enc: json.NewEncoder(rw),
	}
}

func (c *Conn) ReadReq() (*Req, error) {
	var req Req
	err := c.dec.Decode(&req)
	return &req, err
}

func (c *Conn) ReadRes() (*Res, error) {
	var res Res
	err := c.dec.Decode(&res)
	return &res, err
}

func (c *Conn) WriteReq(action Action) error {
	return c.enc.Encode(&Req{Action: action})
}

func (c *Conn) WriteSuccessRes(state *session.State) error {
	res := Res{
		Status: StatusSuccess,
		State:  state,
	}
	return c.enc.Encode(&res)
}

func (c *Conn) WriteErrorRes(err error) error {
	res := Res{
		Status: StatusError,
		Error:  err.Error(),
	}
	return c.enc.Encode(&res)
}

// Call sends one request and waits for its response.
func (c *Conn) Call(action Action) (*Res, error) {
	if err := c.WriteReq(action); err != nil {
		return nil, err
	}
	return c.ReadRes()
}
