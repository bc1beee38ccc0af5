// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message implements the RFC 7252 wire format: the message
// header, the option delta/length encoding (including RFC 7959
// block1/block2), and the code table. It has no notion of sockets,
// retransmission, or request/response correlation — those live in
// pkg/coap/exchange, pkg/coap/endpoint, pkg/coap/client and
// pkg/coap/server.
package message

import "github.com/absmach/coapcore/pkg/coap/message/codes"

// Version is the only CoAP version this implementation speaks.
const Version = 1

// MaxTokenSize is the largest token length the wire format allows.
const MaxTokenSize = 8

// Type is one of the four CoAP message types.
type Type uint8

const (
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return "UNKNOWN"
	}
}

// Method is the decoded verb of a class-0 message.
type Method string

const (
	MethodGet    Method = "get"
	MethodPost   Method = "post"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
)

var methodByCode = map[codes.Code]Method{
	codes.GET:    MethodGet,
	codes.POST:   MethodPost,
	codes.PUT:    MethodPut,
	codes.DELETE: MethodDelete,
}

var codeByMethod = map[Method]codes.Code{
	MethodGet:    codes.GET,
	MethodPost:   codes.POST,
	MethodPut:    codes.PUT,
	MethodDelete: codes.DELETE,
}

// CodeForMethod returns the request code for a method name, and
// false if it is not one of get/post/put/delete.
func CodeForMethod(m Method) (codes.Code, bool) {
	c, ok := codeByMethod[m]
	return c, ok
}

// Message is an immutable CoAP message. Every transformation (setting
// a response code, appending an option, retokenizing) produces a new
// Message rather than mutating an existing one, per spec.md §3.
type Message struct {
	Type      Type
	Code      codes.Code
	MessageID uint16
	Token     []byte
	Options   Options
	Payload   []byte
}

// Method returns the request method and true if Code is a class-0
// method code in {get,post,put,delete}.
func (m *Message) Method() (Method, bool) {
	method, ok := methodByCode[m.Code]
	return method, ok
}

// IsRequest reports whether this message carries a request code.
func (m *Message) IsRequest() bool {
	return m.Code.IsRequest()
}

// Status returns the (class,detail) reply code when Code.Class > 0.
func (m *Message) Status() (codes.Code, bool) {
	if m.Code.Class == 0 {
		return codes.Code{}, false
	}
	return m.Code, true
}

// Clone returns a deep copy of m, suitable as the basis for a
// transformed message.
func (m *Message) Clone() *Message {
	clone := &Message{
		Type:      m.Type,
		Code:      m.Code,
		MessageID: m.MessageID,
		Payload:   append([]byte(nil), m.Payload...),
	}
	if m.Token != nil {
		clone.Token = append([]byte(nil), m.Token...)
	}
	clone.Options = make(Options, len(m.Options))
	for i, o := range m.Options {
		clone.Options[i] = Option{ID: o.ID, Value: append([]byte(nil), o.Value...)}
	}
	return clone
}

// ResponseFor builds the reply envelope for a received message req,
// per spec.md §4.5: ack (carrying req's message-id) if req is
// confirmable, non otherwise; always req's token. Method/status/
// payload are filled in by the caller.
func ResponseFor(req *Message) *Message {
	resp := &Message{
		Token: append([]byte(nil), req.Token...),
	}
	if req.Type == Confirmable {
		resp.Type = Acknowledgement
		resp.MessageID = req.MessageID
	} else {
		resp.Type = NonConfirmable
	}
	return resp
}
