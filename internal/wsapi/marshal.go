package wsapi

import (
	"encoding/json"
	"errors"
)

var (
	errSessionGone   = errors.New("wsapi: session no longer connected")
	errSendQueueFull = errors.New("wsapi: send queue full")
)

func marshal(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
