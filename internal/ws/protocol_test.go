package ws

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{"init", `{"event":"init"}`, InitRequest{}},
		{"uninit with null data", `{"event":"uninit","data":null}`, UninitRequest{}},
		{"getConfig", `{"event":"getConfig"}`, GetConfigRequest{}},
		{"app update force object", `{"event":"checkAppUpdate","data":{"force":true}}`, CheckAppUpdateRequest{Force: true}},
		{"app update bare bool", `{"event":"checkAppUpdate","data":true}`, CheckAppUpdateRequest{Force: true}},
		{"app update no data", `{"event":"checkAppUpdate"}`, CheckAppUpdateRequest{}},
		{"lib update force false", `{"event":"checkLibUpdate","data":{"force":false}}`, CheckLibUpdateRequest{}},
		{"lib update bare bool", `{"event":"checkLibUpdate","data":true}`, CheckLibUpdateRequest{Force: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseRequest: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseRequest = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseSetConfig(t *testing.T) {
	got, err := ParseRequest([]byte(`{"event":"setConfig","data":{"captureInterval":50}}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	req, ok := got.(SetConfigRequest)
	if !ok {
		t.Fatalf("ParseRequest returned %T, want SetConfigRequest", got)
	}
	if string(req.Patch) != `{"captureInterval":50}` {
		t.Errorf("Patch = %s", req.Patch)
	}
}

func TestParseUnknownEventIsRaw(t *testing.T) {
	got, err := ParseRequest([]byte(`{"event":"teleport","data":[1,2]}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	raw, ok := got.(RawRequest)
	if !ok {
		t.Fatalf("ParseRequest returned %T, want RawRequest", got)
	}
	if raw.Event() != "teleport" || string(raw.Data) != "[1,2]" {
		t.Errorf("RawRequest = %+v", raw)
	}
}

func TestParseRequestRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{"data":{}}`,
		`{"event":""}`,
		`{"event":"setConfig"}`,
		`{"event":"setConfig","data":"captureInterval"}`,
	} {
		if _, err := ParseRequest([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseRequest(%q) error = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestMessageMarshal(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{Tag: TagReady}, `{"event":"ready"}`},
		{Message{Tag: TagDoneInit}, `{"event":"doneInit"}`},
		{Message{Tag: TagUninit}, `{"event":"uninit"}`},
		{Message{Tag: TagTrack, Data: map[string]float64{"x": 1.5}}, `{"event":"track","data":{"x":1.5}}`},
		{Message{Tag: TagConfig, Data: struct {
			Changed bool `json:"changed"`
		}{true}}, `{"event":"config","data":{"changed":true}}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", tt.msg.Tag, err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.msg.Tag, got, tt.want)
		}
	}
}

func TestTagNames(t *testing.T) {
	want := map[Tag]string{
		TagConfig:   "config",
		TagTrack:    "track",
		TagUpdate:   "update",
		TagReady:    "ready",
		TagDoneInit: "doneInit",
		TagUninit:   "uninit",
	}
	for tag, name := range want {
		if got := tag.String(); got != name {
			t.Errorf("Tag(%d).String() = %q, want %q", int(tag), got, name)
		}
	}
}
