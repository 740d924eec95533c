package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"wintrust/internal/domainerrors"
	"wintrust/internal/models"
)

// createRaffleRequest keeps pointers so omitted fields can be told apart
// from explicit zero values.
type createRaffleRequest struct {
	Nombre          *string   `json:"nombre"`
	Premio          *string   `json:"premio"`
	Descripcion     *string   `json:"descripcion"`
	PrecioPorNumero *float64  `json:"precio_por_numero"`
	FechaFin        *flexTime `json:"fecha_fin"`
	TotalNumeros    *int      `json:"total_numeros"`
}

func (r *createRaffleRequest) toSpec() models.RaffleSpec {
	spec := models.RaffleSpec{
		Name:           r.Nombre,
		Prize:          r.Premio,
		Description:    r.Descripcion,
		PricePerNumber: r.PrecioPorNumero,
		TotalNumbers:   r.TotalNumeros,
	}
	if r.FechaFin != nil {
		t := time.Time(*r.FechaFin)
		spec.EndsAt = &t
	}
	return spec
}

type proofRequest struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
}

type participateRequest struct {
	RaffleID      string        `json:"raffleId"`
	NumeroElegido *ticketNumber `json:"numero_elegido"`
	Proof         *proofRequest `json:"proof"`
	Action        string        `json:"action"`
}

// Validate checks the request shape before any state is touched.
func (r *participateRequest) Validate() error {
	if r.RaffleID == "" {
		return domainerrors.New(domainerrors.CodeValidation, "raffleId is required")
	}
	if r.NumeroElegido != nil && *r.NumeroElegido <= 0 {
		return domainerrors.New(domainerrors.CodeValidation, "numero_elegido must be a positive integer")
	}
	if r.Proof == nil {
		return domainerrors.New(domainerrors.CodeValidation, "proof is required")
	}
	fields := []struct{ name, value string }{
		{"nullifier_hash", r.Proof.NullifierHash},
		{"merkle_root", r.Proof.MerkleRoot},
		{"proof", r.Proof.Proof},
		{"verification_level", r.Proof.VerificationLevel},
	}
	for _, f := range fields {
		if f.value == "" {
			return domainerrors.New(domainerrors.CodeValidation, fmt.Sprintf("proof.%s is required", f.name))
		}
	}
	return nil
}

func (r *participateRequest) toModel() models.ParticipationRequest {
	req := models.ParticipationRequest{
		RaffleID: r.RaffleID,
		Action:   r.Action,
		Proof: models.Proof{
			NullifierHash:     r.Proof.NullifierHash,
			MerkleRoot:        r.Proof.MerkleRoot,
			Proof:             r.Proof.Proof,
			VerificationLevel: r.Proof.VerificationLevel,
		},
	}
	// The raffle id is the action when the client does not send one.
	if req.Action == "" {
		req.Action = r.RaffleID
	}
	if r.NumeroElegido != nil {
		n := int(*r.NumeroElegido)
		req.RequestedNumber = &n
	}
	return req
}

// ticketNumber accepts an integral JSON number or a numeric string.
type ticketNumber int

func (n *ticketNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return errors.New("numero_elegido must be an integer")
	}
	*n = ticketNumber(f)
	return nil
}

// flexTime accepts an RFC 3339 string or unix milliseconds.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return errors.New("fecha_fin must be an RFC 3339 timestamp or unix milliseconds")
		}
		*t = flexTime(parsed)
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return errors.New("fecha_fin must be an RFC 3339 timestamp or unix milliseconds")
	}
	*t = flexTime(time.UnixMilli(ms))
	return nil
}
