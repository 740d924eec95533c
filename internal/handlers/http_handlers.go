package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wintrust/internal/domainerrors"
	"wintrust/internal/models"
	"wintrust/internal/privacy"
)

// Version is reported by the info endpoint.
var Version = "1.0.0"

// RaffleService is the behaviour the HTTP layer needs from the raffle service.
type RaffleService interface {
	CreateRaffle(ctx context.Context, spec models.RaffleSpec) (*models.Raffle, error)
	GetRaffle(ctx context.Context, id string) (*models.Raffle, error)
	ListActive(ctx context.Context) ([]*models.Raffle, error)
	Participate(ctx context.Context, req models.ParticipationRequest) (*models.Participation, error)
	Winner(ctx context.Context, raffleID string) (*models.Winner, error)
	Participations(ctx context.Context, raffleID string) ([]models.Participation, error)
}

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	service RaffleService
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(service RaffleService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// RegisterRoutes registers the API routes. participate runs before the
// participation handler, e.g. rate limiting.
func (h *HTTPHandler) RegisterRoutes(router gin.IRouter, participate ...gin.HandlerFunc) {
	router.GET("/", h.ShowInfo)
	router.GET("/sorteos", h.ListRaffles)
	router.GET("/sorteos/:id", h.GetRaffle)
	router.POST("/sorteos/crear", h.CreateRaffle)
	router.POST("/sorteos/participar", append(participate, h.Participate)...)
	router.GET("/sorteos/:id/ganador", h.GetWinner)
	router.GET("/sorteos/:id/participaciones.csv", h.ExportParticipationsCSV)
}

// RegisterMetrics exposes g in the prometheus text format.
func RegisterMetrics(router gin.IRouter, g prometheus.Gatherer) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
}

// ShowInfo describes the API.
func (h *HTTPHandler) ShowInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "WinTrust API",
		"version": Version,
		"endpoints": gin.H{
			"GET /sorteos":                         "Lista todos los sorteos activos",
			"GET /sorteos/:id":                     "Obtiene detalles de un sorteo",
			"POST /sorteos/participar":             "Permite participar en un sorteo",
			"GET /sorteos/:id/ganador":             "Obtiene el ganador de un sorteo",
			"POST /sorteos/crear":                  "Crea un nuevo sorteo (solo admin)",
			"GET /sorteos/:id/participaciones.csv": "Exporta las participaciones de un sorteo",
		},
	})
}

// ListRaffles returns the active raffles.
func (h *HTTPHandler) ListRaffles(c *gin.Context) {
	raffles, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRaffleListResponse(raffles))
}

// GetRaffle returns a single raffle.
func (h *HTTPHandler) GetRaffle(c *gin.Context) {
	raffle, err := h.service.GetRaffle(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRaffleResponse(raffle))
}

// CreateRaffle creates a raffle; omitted fields get defaults.
func (h *HTTPHandler) CreateRaffle(c *gin.Context) {
	var req createRaffleRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid request body: "+err.Error()))
			return
		}
	}
	raffle, err := h.service.CreateRaffle(c.Request.Context(), req.toSpec())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRaffleResponse(raffle))
}

// Participate sells a number to a verified identity.
func (h *HTTPHandler) Participate(c *gin.Context) {
	var req participateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid request body: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	p, err := h.service.Participate(c.Request.Context(), req.toModel())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, participateResponse{
		Mensaje:             "Participación exitosa",
		NumeroAsignado:      p.Number,
		NullifierHashMasked: privacy.MaskNullifier(p.Nullifier),
	})
}

// GetWinner returns the winner, drawing it if the raffle has just ended.
func (h *HTTPHandler) GetWinner(c *gin.Context) {
	w, err := h.service.Winner(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newWinnerResponse(w))
}

// ExportParticipationsCSV downloads a raffle's participations as CSV.
func (h *HTTPHandler) ExportParticipationsCSV(c *gin.Context) {
	id := c.Param("id")
	parts, err := h.service.Participations(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment;filename=participaciones_%s.csv", id))
	c.Status(http.StatusOK)

	// BOM so spreadsheet tools read the file as UTF-8.
	if _, err := c.Writer.Write([]byte("\xef\xbb\xbf")); err != nil {
		logger.Infof("Error writing CSV: %v", err)
		return
	}
	w := csv.NewWriter(c.Writer)
	if err := w.Write([]string{"numero", "nullifier_hash_masked", "fecha"}); err != nil {
		logger.Infof("Error writing CSV header: %v", err)
		return
	}
	for _, p := range parts {
		row := []string{
			strconv.Itoa(p.Number),
			privacy.MaskNullifier(p.Nullifier),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			logger.Infof("Error writing CSV row: %v", err)
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		logger.Infof("Error flushing CSV: %v", err)
	}
}
