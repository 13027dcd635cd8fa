package model

import (
	"strconv"
	"strings"
)

// ExitMarker prefixes the payload of the last event of every build stream.
const ExitMarker = "__EXIT__"

type StartBuildResponse struct {
	Logs    string `json:"logs"`
	Preview string `json:"preview"`
}

type BuildMessageType string

const (
	BuildMessageLog   BuildMessageType = "log"
	BuildMessageExit  BuildMessageType = "exit"
	BuildMessageError BuildMessageType = "error"
)

// BuildMessage is one build event on the WebSocket log stream.
type BuildMessage struct {
	Type     BuildMessageType `json:"type"`
	Data     string           `json:"data,omitempty"`
	ExitCode int              `json:"exitCode"`
	Message  string           `json:"message,omitempty"`
}

// ParseExitMarker reports whether payload is a terminal build event and
// returns its exit code.
func ParseExitMarker(payload string) (int, bool) {
	rest, ok := strings.CutPrefix(payload, ExitMarker+" ")
	if !ok {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return code, true
}
