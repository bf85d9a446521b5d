package rpc

import (
	"fmt"

	"github.com/router-for-me/RichPresence/internal/presence"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Frame operations exchanged over the gateway session.
const (
	OpPresence = "presence"
	OpStatus   = "status"
	OpError    = "error"
	OpAck      = "ack"
	OpLog      = "log"
)

// frame is a decoded server frame. Only the fields relevant to Op are set.
type frame struct {
	Op       string
	Status   string
	Error    string
	Detail   int32
	Nonce    string
	OK       bool
	Severity string
	Message  string
}

func buildPresenceFrame(nonce string, activity presence.Activity) ([]byte, error) {
	out := []byte(`{"op":"presence"}`)
	var err error
	if out, err = sjson.SetBytes(out, "nonce", nonce); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "activity.type", int(activity.Type)); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "activity.state", activity.State); err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "activity.details", activity.Details); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFrame(data []byte) (frame, error) {
	if !gjson.ValidBytes(data) {
		return frame{}, fmt.Errorf("invalid frame: %q", truncate(string(data), 64))
	}
	root := gjson.ParseBytes(data)
	f := frame{Op: root.Get("op").String()}
	if f.Op == "" {
		return frame{}, fmt.Errorf("frame without op")
	}
	switch f.Op {
	case OpStatus:
		f.Status = root.Get("status").String()
		f.Error = root.Get("error").String()
		f.Detail = int32(root.Get("detail").Int())
	case OpError:
		f.Error = root.Get("error").String()
		f.Detail = int32(root.Get("detail").Int())
	case OpAck:
		f.Nonce = root.Get("nonce").String()
		f.OK = root.Get("ok").Bool()
		f.Error = root.Get("error").String()
	case OpLog:
		f.Severity = root.Get("severity").String()
		f.Message = root.Get("message").String()
	}
	return f, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
