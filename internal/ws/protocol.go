package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound event names.
const (
	EventInit           = "init"
	EventUninit         = "uninit"
	EventGetConfig      = "getConfig"
	EventSetConfig      = "setConfig"
	EventCheckAppUpdate = "checkAppUpdate"
	EventCheckLibUpdate = "checkLibUpdate"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is the wire shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Request is a parsed inbound message. The set of implementations is closed;
// names without a typed decoder arrive as RawRequest.
type Request interface {
	Event() string
	isRequest()
}

type InitRequest struct{}

type UninitRequest struct{}

type GetConfigRequest struct{}

// SetConfigRequest carries the configuration fields the client sent. Fields
// it omitted are absent from Patch.
type SetConfigRequest struct {
	Patch json.RawMessage
}

type CheckAppUpdateRequest struct {
	Force bool
}

type CheckLibUpdateRequest struct {
	Force bool
}

type RawRequest struct {
	Name string
	Data json.RawMessage
}

func (InitRequest) Event() string           { return EventInit }
func (UninitRequest) Event() string         { return EventUninit }
func (GetConfigRequest) Event() string      { return EventGetConfig }
func (SetConfigRequest) Event() string      { return EventSetConfig }
func (CheckAppUpdateRequest) Event() string { return EventCheckAppUpdate }
func (CheckLibUpdateRequest) Event() string { return EventCheckLibUpdate }
func (r RawRequest) Event() string          { return r.Name }

func (InitRequest) isRequest()           {}
func (UninitRequest) isRequest()         {}
func (GetConfigRequest) isRequest()      {}
func (SetConfigRequest) isRequest()      {}
func (CheckAppUpdateRequest) isRequest() {}
func (CheckLibUpdateRequest) isRequest() {}
func (RawRequest) isRequest()            {}

// ParseRequest decodes an inbound envelope into its typed request.
func ParseRequest(raw []byte) (Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not JSON", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformed)
	}

	switch env.Event {
	case EventInit:
		return InitRequest{}, nil
	case EventUninit:
		return UninitRequest{}, nil
	case EventGetConfig:
		return GetConfigRequest{}, nil
	case EventSetConfig:
		if !gjson.ParseBytes(env.Data).IsObject() {
			return nil, fmt.Errorf("%w: setConfig needs an object", ErrMalformed)
		}
		return SetConfigRequest{Patch: env.Data}, nil
	case EventCheckAppUpdate:
		return CheckAppUpdateRequest{Force: parseForce(env.Data)}, nil
	case EventCheckLibUpdate:
		return CheckLibUpdateRequest{Force: parseForce(env.Data)}, nil
	default:
		return RawRequest{Name: env.Event, Data: env.Data}, nil
	}
}

// parseForce accepts {"force": true} as well as a bare boolean.
func parseForce(data json.RawMessage) bool {
	v := gjson.ParseBytes(data)
	if v.IsObject() {
		return v.Get("force").Bool()
	}
	return v.Type == gjson.True
}

// Tag identifies an outbound event kind.
type Tag int

const (
	TagConfig Tag = iota
	TagTrack
	TagUpdate
	TagReady
	TagDoneInit
	TagUninit
)

var tagNames = map[Tag]string{
	TagConfig:   "config",
	TagTrack:    "track",
	TagUpdate:   "update",
	TagReady:    "ready",
	TagDoneInit: "doneInit",
	TagUninit:   "uninit",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Message is an outbound event. Data is omitted from the wire when nil.
type Message struct {
	Tag  Tag
	Data any
}

func (m Message) MarshalJSON() ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: m.Tag.String(), Data: m.Data}
	return json.Marshal(env)
}
