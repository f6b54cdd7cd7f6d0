// Package signalr speaks the classic ASP.NET SignalR 1.5 protocol over a
// websocket: negotiate, connect, start, then hub invocations and callbacks.
package signalr

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

// ClientProtocol is the protocol version sent on every call.
const ClientProtocol = "1.5"

// Endpoint builds the negotiate, connect and start addresses for one locale.
type Endpoint struct {
	BaseURL *url.URL
	// Locale is the "{lang}/{country}" path prefix, e.g. "de/de".
	Locale string
	Hubs   []string
}

// ConnectionData is the JSON hub list, e.g. [{"name":"livehub"},{"name":"quotehub"}].
func (e Endpoint) ConnectionData() string {
	type hub struct {
		Name string `json:"name"`
	}
	hubs := make([]hub, len(e.Hubs))
	for i, h := range e.Hubs {
		hubs[i] = hub{Name: h}
	}
	b, _ := json.Marshal(hubs)
	return string(b)
}

func (e Endpoint) path(action string) string {
	return strings.Trim(e.Locale, "/") + "/signalr/" + action
}

// NegotiateTarget is the relative negotiate call.
func (e Endpoint) NegotiateTarget(now time.Time) string {
	return e.path("negotiate") + parse.QueryString(parse.NewParams(
		"clientProtocol", ClientProtocol,
		"connectionData", e.ConnectionData(),
		"_", now.UnixMilli(),
	))
}

// StartTarget is the relative start call that activates a connected stream.
func (e Endpoint) StartTarget(token string, now time.Time) string {
	return e.path("start") + parse.QueryString(parse.NewParams(
		"transport", "webSockets",
		"clientProtocol", ClientProtocol,
		"connectionToken", token,
		"connectionData", e.ConnectionData(),
		"_", now.UnixMilli(),
	))
}

// ConnectURL is the absolute websocket address for token.
func (e Endpoint) ConnectURL(token string, tid int) string {
	u := *e.BaseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/" + e.path("connect")
	u.RawQuery = parse.NewParams(
		"transport", "webSockets",
		"clientProtocol", ClientProtocol,
		"connectionToken", token,
		"connectionData", e.ConnectionData(),
		"tid", strconv.Itoa(tid),
	).Encode(parse.QueryOptions{})
	return u.String()
}

// NegotiateResponse is the body of the negotiate call.
type NegotiateResponse struct {
	URL                     string   `json:"Url"`
	ConnectionToken         string   `json:"ConnectionToken"`
	ConnectionID            string   `json:"ConnectionId"`
	KeepAliveTimeout        *float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64  `json:"DisconnectTimeout"`
	TryWebSockets           bool     `json:"TryWebSockets"`
	ProtocolVersion         string   `json:"ProtocolVersion"`
	TransportConnectTimeout float64  `json:"TransportConnectTimeout"`
}

// StartResponse is the body of the start call.
type StartResponse struct {
	Response string `json:"Response"`
}

// Invocation is an outbound hub method call.
type Invocation struct {
	Hub    string `json:"H"`
	Method string `json:"M"`
	Args   []any  `json:"A"`
	ID     int    `json:"I"`
}

// HubMessage is one client-side callback carried by a frame.
type HubMessage struct {
	Hub    string            `json:"H"`
	Method string            `json:"M"`
	Args   []json.RawMessage `json:"A"`
}

// Frame is one inbound websocket message. Persistent-connection frames carry
// a cursor C and a batch M; invocation results carry I with R or E; keep
// alives are "{}".
type Frame struct {
	Cursor     string          `json:"C,omitempty"`
	Init       *int            `json:"S,omitempty"`
	Messages   []HubMessage    `json:"M,omitempty"`
	Invocation json.RawMessage `json:"I,omitempty"`
	Result     json.RawMessage `json:"R,omitempty"`
	Error      string          `json:"E,omitempty"`
}

// IsKeepAlive reports an empty frame.
func (f Frame) IsKeepAlive() bool {
	return f.Cursor == "" && f.Init == nil && len(f.Messages) == 0 && len(f.Invocation) == 0
}

// IsResult reports an invocation result frame.
func (f Frame) IsResult() bool {
	return len(f.Invocation) > 0
}

// DecodeFrame parses one inbound message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode signalr frame: %w", err)
	}
	return f, nil
}
