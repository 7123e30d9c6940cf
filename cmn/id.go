// Package cmn provides the shared types, configuration, and error taxonomy
// used across the core.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"github.com/google/uuid"
)

// ActorID is the universally-unique, opaque 128-bit identifier assigned at
// spawn and stable for the actor's lifetime.
type ActorID uuid.UUID

var NilActorID ActorID

func NewActorID() ActorID { return ActorID(uuid.New()) }

func (id ActorID) String() string { return uuid.UUID(id).String() }

func (id ActorID) IsNil() bool { return id == NilActorID }

func ParseActorID(s string) (ActorID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilActorID, err
	}
	return ActorID(u), nil
}

func (id ActorID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *ActorID) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return nil
	}
	parsed, err := ParseActorID(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
