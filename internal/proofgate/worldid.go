package proofgate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"wintrust/internal/models"
)

const (
	DefaultWorldIDBaseURL = "https://developer.worldcoin.org"
	DefaultVerifyTimeout  = 10 * time.Second
)

// ErrProofRejected is returned when the World ID service denies a proof.
var ErrProofRejected = errors.New("world id rejected proof")

// WorldIDVerifier checks proofs with the World ID cloud verify endpoint.
// The action doubles as the signal.
type WorldIDVerifier struct {
	appID   string
	baseURL string
	client  *http.Client
}

// WorldIDOption configures a WorldIDVerifier.
type WorldIDOption func(*WorldIDVerifier)

func WithBaseURL(u string) WorldIDOption {
	return func(v *WorldIDVerifier) { v.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) WorldIDOption {
	return func(v *WorldIDVerifier) { v.client = c }
}

func NewWorldIDVerifier(appID string, opts ...WorldIDOption) *WorldIDVerifier {
	v := &WorldIDVerifier{
		appID:   appID,
		baseURL: DefaultWorldIDBaseURL,
		client:  &http.Client{Timeout: DefaultVerifyTimeout},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyRequest struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
	Action            string `json:"action"`
	SignalHash        string `json:"signal_hash"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Detail  string `json:"detail"`
}

func (v *WorldIDVerifier) Verify(ctx context.Context, proof models.Proof, action string) error {
	if v.appID == "" {
		return errors.New("world id app id is not configured")
	}
	body, err := json.Marshal(verifyRequest{
		NullifierHash:     proof.NullifierHash,
		MerkleRoot:        proof.MerkleRoot,
		Proof:             proof.Proof,
		VerificationLevel: proof.VerificationLevel,
		Action:            action,
		SignalHash:        SignalHash(action),
	})
	if err != nil {
		return fmt.Errorf("encode verify request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v2/verify/%s", v.baseURL, v.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("call world id verify: %w", err)
	}
	defer resp.Body.Close()

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if resp.StatusCode == http.StatusOK && out.Success {
		return nil
	}
	if out.Code != "" {
		return fmt.Errorf("%w: status %d: %s: %s", ErrProofRejected, resp.StatusCode, out.Code, out.Detail)
	}
	return fmt.Errorf("%w: status %d", ErrProofRejected, resp.StatusCode)
}

// SignalHash hashes a signal the way the World ID proof system expects:
// keccak-256 shifted right by 8 bits, as 0x-prefixed hex.
func SignalHash(signal string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signal))
	sum := h.Sum(nil)
	return "0x00" + hex.EncodeToString(sum[:31])
}
