package server

import (
	"github.com/theater-rt/theater/abi"
	"github.com/theater-rt/theater/actorrt"
	"github.com/theater-rt/theater/chain"
)

// RequestType discriminates the management protocol's request frames.
type RequestType string

const (
	ReqStartActor     RequestType = "StartActor"
	ReqStopActor      RequestType = "StopActor"
	ReqSendMessage    RequestType = "SendMessage"
	ReqGetActorStatus RequestType = "GetActorStatus"
	ReqGetActorState  RequestType = "GetActorState"
	ReqGetActorEvents RequestType = "GetActorEvents"
	ReqSubscribe      RequestType = "Subscribe"
)

// Request is a flat tagged union over every request kind, the same
// single-struct-with-discriminator shape abi.Value uses for values:
// only the fields relevant to Type are populated.
type Request struct {
	Type RequestType `json:"type"`

	ActorID  string `json:"actor_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	// StartActor
	ManifestTOML []byte `json:"manifest_toml,omitempty"`
	ManifestRoot string `json:"manifest_root,omitempty"`

	// StopActor
	Graceful bool `json:"graceful,omitempty"`

	// SendMessage
	Function string     `json:"function,omitempty"`
	Input    *abi.Value `json:"input,omitempty"`
}

// ResponseType discriminates the management protocol's response frames.
type ResponseType string

const (
	RespActorStarted ResponseType = "ActorStarted"
	RespActorEvent   ResponseType = "ActorEvent"
	RespActorStopped ResponseType = "ActorStopped"
	RespActorError   ResponseType = "ActorError"
	RespActorResult  ResponseType = "ActorResult"
	RespActorStatus  ResponseType = "ActorStatus"
)

// Response is a flat tagged union over every response kind.
type Response struct {
	Type ResponseType `json:"type"`

	ActorID string          `json:"actor_id,omitempty"`
	Event   *chain.Event    `json:"event,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  *abi.Value      `json:"result,omitempty"`
	Status  *actorrt.Status `json:"status,omitempty"`
	State   string          `json:"state,omitempty"`
	Events  []chain.Event   `json:"events,omitempty"`
}

func errorResponse(err error) Response {
	return Response{Type: RespActorError, Error: err.Error()}
}
