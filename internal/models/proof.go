package models

import "time"

// Proof is the World ID proof payload submitted with a participation.
// NullifierHash identifies the person for the proof's action without
// revealing who they are.
type Proof struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
}

// RaffleSpec describes a raffle to create. Nil fields were omitted by the
// caller and receive defaults; non-nil fields are taken as given.
type RaffleSpec struct {
	Name           *string
	Prize          *string
	Description    *string
	PricePerNumber *float64
	EndsAt         *time.Time
	TotalNumbers   *int
}

// ParticipationRequest asks for a ticket in a raffle.
// RequestedNumber is nil when the participant wants a random number.
type ParticipationRequest struct {
	RaffleID        string
	RequestedNumber *int
	Proof           Proof
	Action          string
}
