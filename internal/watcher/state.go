package watcher

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// HostState is the content of the host state file, for example
//
//	{"scene": "Levels/Forest", "run_state": "playing"}
//
// Absent fields leave the corresponding presence value untouched.
type HostState struct {
	Scene       string
	HasScene    bool
	RunState    string
	HasRunState bool
}

// ParseHostState decodes a host state document.
func ParseHostState(data []byte) (HostState, error) {
	if !gjson.ValidBytes(data) {
		return HostState{}, fmt.Errorf("host state is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return HostState{}, fmt.Errorf("host state must be a JSON object")
	}
	var state HostState
	if scene := root.Get("scene"); scene.Exists() {
		state.Scene = strings.TrimSpace(scene.String())
		state.HasScene = true
	}
	if runState := root.Get("run_state"); runState.Exists() {
		state.RunState = strings.ToLower(strings.TrimSpace(runState.String()))
		state.HasRunState = true
	}
	return state, nil
}
