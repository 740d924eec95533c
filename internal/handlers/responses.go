package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"wintrust/internal/domainerrors"
	"wintrust/internal/models"
	"wintrust/internal/privacy"
)

type winnerResponse struct {
	Numero              int    `json:"numero"`
	NullifierHashMasked string `json:"nullifier_hash_masked"`
}

// raffleResponse mirrors models.Raffle with the winner's nullifier masked.
type raffleResponse struct {
	ID              string          `json:"id"`
	Nombre          string          `json:"nombre"`
	Premio          string          `json:"premio"`
	Descripcion     string          `json:"descripcion"`
	PrecioPorNumero float64         `json:"precio_por_numero"`
	FechaFin        time.Time       `json:"fecha_fin"`
	TotalNumeros    int             `json:"total_numeros"`
	NumerosVendidos []int           `json:"numeros_vendidos"`
	Ganador         *winnerResponse `json:"ganador,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type participateResponse struct {
	Mensaje             string `json:"mensaje"`
	NumeroAsignado      int    `json:"numero_asignado"`
	NullifierHashMasked string `json:"nullifier_hash_masked"`
}

func newWinnerResponse(w *models.Winner) *winnerResponse {
	if w == nil {
		return nil
	}
	return &winnerResponse{
		Numero:              w.Number,
		NullifierHashMasked: privacy.MaskNullifier(w.Nullifier),
	}
}

func newRaffleResponse(r *models.Raffle) raffleResponse {
	sold := r.SoldNumbers
	if sold == nil {
		sold = []int{}
	}
	return raffleResponse{
		ID:              r.ID,
		Nombre:          r.Name,
		Premio:          r.Prize,
		Descripcion:     r.Description,
		PrecioPorNumero: r.PricePerNumber,
		FechaFin:        r.EndsAt,
		TotalNumeros:    r.TotalNumbers,
		NumerosVendidos: sold,
		Ganador:         newWinnerResponse(r.Winner),
		CreatedAt:       r.CreatedAt,
	}
}

func newRaffleListResponse(rs []*models.Raffle) []raffleResponse {
	out := make([]raffleResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, newRaffleResponse(r))
	}
	return out
}

// statusFor maps an error code onto an HTTP status.
func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeValidation, domainerrors.CodeConflict, domainerrors.CodeVerificationFailed:
		return http.StatusBadRequest
	case domainerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error, code}. Internal detail is logged, never sent.
func writeError(c *gin.Context, err error) {
	code := domainerrors.CodeOf(err)
	if code == domainerrors.CodeInternal {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(statusFor(code), gin.H{
		"error": domainerrors.MessageOf(err),
		"code":  code,
	})
}
