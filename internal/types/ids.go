package types

import (
	"github.com/google/uuid"
)

type TransferID string
type AgentID string

// SystemAgent is the actor recorded for transitions the queue performs on
// its own, such as expiration.
const SystemAgent AgentID = "system"

func NewTransferID() TransferID {
	return TransferID(uuid.New().String())
}
