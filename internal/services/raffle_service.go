package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wintrust/internal/domainerrors"
	"wintrust/internal/metrics"
	"wintrust/internal/models"
	"wintrust/internal/proofgate"
	"wintrust/internal/store"
)

// Creation defaults for omitted fields.
const (
	DefaultName            = "Sorteo de prueba"
	DefaultPrize           = "100 WLD"
	DefaultDescription     = "Un sorteo de prueba"
	DefaultPricePerNumber  = 1.0
	DefaultTotalNumbers    = 100
	DefaultDuration        = 24 * time.Hour
	DefaultMaxTotalNumbers = 100_000
)

// RaffleService orchestrates raffle creation, participation and draws.
type RaffleService struct {
	store     store.Store
	gate      *proofgate.Gate
	allocator *NumberAllocator
	winners   *WinnerSelector

	src             Source
	now             func() time.Time
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	defaultDuration time.Duration
	maxTotalNumbers int
}

// Option configures a RaffleService.
type Option func(*RaffleService)

// WithSource sets the random source for number allocation and draws.
func WithSource(src Source) Option {
	return func(s *RaffleService) { s.src = src }
}

func WithClock(now func() time.Time) Option {
	return func(s *RaffleService) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RaffleService) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *RaffleService) { s.tracer = t }
}

// WithDefaultDuration sets how long a raffle created without fecha_fin runs.
func WithDefaultDuration(d time.Duration) Option {
	return func(s *RaffleService) {
		if d > 0 {
			s.defaultDuration = d
		}
	}
}

// WithMaxTotalNumbers caps total_numeros on creation.
func WithMaxTotalNumbers(n int) Option {
	return func(s *RaffleService) {
		if n > 0 {
			s.maxTotalNumbers = n
		}
	}
}

// NewRaffleService creates a RaffleService over a store and a proof gate.
func NewRaffleService(st store.Store, gate *proofgate.Gate, opts ...Option) *RaffleService {
	s := &RaffleService{
		store:           st,
		gate:            gate,
		src:             globalSource{},
		now:             time.Now,
		tracer:          otel.Tracer("wintrust/internal/services"),
		defaultDuration: DefaultDuration,
		maxTotalNumbers: DefaultMaxTotalNumbers,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.allocator = NewNumberAllocator(s.src)
	s.winners = NewWinnerSelector(st, s.src, s.metrics)
	return s
}

// CreateRaffle stores a new raffle. Omitted fields take defaults; fields
// that were given must be valid.
func (s *RaffleService) CreateRaffle(ctx context.Context, spec models.RaffleSpec) (*models.Raffle, error) {
	now := s.now().UTC()
	r := &models.Raffle{
		ID:             uuid.NewString(),
		Name:           valueOr(spec.Name, DefaultName),
		Prize:          valueOr(spec.Prize, DefaultPrize),
		Description:    valueOr(spec.Description, DefaultDescription),
		PricePerNumber: valueOr(spec.PricePerNumber, DefaultPricePerNumber),
		EndsAt:         valueOr(spec.EndsAt, now.Add(s.defaultDuration)).UTC(),
		TotalNumbers:   valueOr(spec.TotalNumbers, DefaultTotalNumbers),
		SoldNumbers:    []int{},
		CreatedAt:      now,
	}

	switch {
	case r.Name == "":
		return nil, domainerrors.New(domainerrors.CodeValidation, "nombre must not be empty")
	case r.Prize == "":
		return nil, domainerrors.New(domainerrors.CodeValidation, "premio must not be empty")
	case r.PricePerNumber <= 0:
		return nil, domainerrors.New(domainerrors.CodeValidation, "precio_por_numero must be positive")
	case r.TotalNumbers <= 0:
		return nil, domainerrors.New(domainerrors.CodeValidation, "total_numeros must be positive")
	case r.TotalNumbers > s.maxTotalNumbers:
		return nil, domainerrors.New(domainerrors.CodeValidation, "total_numeros is too large")
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, translateStoreError(err)
	}
	s.metrics.IncrementRafflesCreated()
	logger.Infof("created raffle %s with %d numbers ending %s", r.ID, r.TotalNumbers, r.EndsAt.Format(time.RFC3339))
	return r, nil
}

func (s *RaffleService) GetRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	if id == "" {
		return nil, domainerrors.New(domainerrors.CodeValidation, "raffle id is required")
	}
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return r, nil
}

// Participations returns a raffle's participations in sale order.
func (s *RaffleService) Participations(ctx context.Context, raffleID string) ([]models.Participation, error) {
	ps, err := s.store.Participations(ctx, raffleID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return ps, nil
}

// ListActive returns the raffles still open for sales.
func (s *RaffleService) ListActive(ctx context.Context) ([]*models.Raffle, error) {
	rs, err := s.store.ListActive(ctx, s.now())
	if err != nil {
		return nil, translateStoreError(err)
	}
	if rs == nil {
		rs = []*models.Raffle{}
	}
	return rs, nil
}

// Participate admits a verified identity and sells it one number.
// A participation is either fully recorded, ledger and store, or not at all.
func (s *RaffleService) Participate(ctx context.Context, req models.ParticipationRequest) (p *models.Participation, err error) {
	ctx, span := s.tracer.Start(ctx, "RaffleService.Participate",
		trace.WithAttributes(attribute.String("raffle.id", req.RaffleID)))
	defer func() {
		s.observeParticipation(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domainerrors.CodeOf(err)))
		}
		span.End()
	}()

	if err := validateParticipation(req); err != nil {
		return nil, err
	}

	// Reject unknown and closed raffles before spending a verification call.
	raffle, err := s.store.Get(ctx, req.RaffleID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if !raffle.IsOpen(s.now()) {
		return nil, ErrRaffleEnded
	}
	if raffle.IsSoldOut() {
		return nil, ErrNoNumbersAvailable
	}

	err = s.gate.Admit(ctx, req.Proof, req.Action, func(ctx context.Context) error {
		return s.store.Update(ctx, req.RaffleID, func(tx store.Tx) error {
			now := s.now()
			r := tx.Raffle()
			if !r.IsOpen(now) {
				return ErrRaffleEnded
			}
			number, err := s.allocator.Allocate(r, req.RequestedNumber)
			if err != nil {
				return err
			}
			p, err = tx.RecordParticipation(req.Proof.NullifierHash, number, now)
			return err
		})
	})
	if err != nil {
		if domainerrors.CodeOf(err) == domainerrors.CodeInternal {
			logger.Errorf("participation in raffle %s failed: %v", req.RaffleID, err)
		}
		return nil, translateStoreError(err)
	}
	logger.Infof("raffle %s: number %d sold", req.RaffleID, p.Number)
	return p, nil
}

func (s *RaffleService) observeParticipation(err error) {
	switch {
	case err == nil:
		s.metrics.ObserveParticipation(metrics.OutcomeAccepted)
	case domainerrors.CodeOf(err) == domainerrors.CodeInternal:
		s.metrics.ObserveParticipation(metrics.OutcomeFailed)
	default:
		s.metrics.ObserveParticipation(metrics.OutcomeRejected)
	}
}

func validateParticipation(req models.ParticipationRequest) error {
	if req.RaffleID == "" {
		return domainerrors.New(domainerrors.CodeValidation, "raffleId is required")
	}
	if req.Action == "" {
		return domainerrors.New(domainerrors.CodeValidation, "action is required")
	}
	pr := req.Proof
	if pr.NullifierHash == "" || pr.MerkleRoot == "" || pr.Proof == "" || pr.VerificationLevel == "" {
		return domainerrors.New(domainerrors.CodeValidation, "proof requires nullifier_hash, merkle_root, proof and verification_level")
	}
	return nil
}

// Winner returns the raffle's winner, drawing it first if the raffle has
// ended with sales and no winner yet.
func (s *RaffleService) Winner(ctx context.Context, raffleID string) (w *models.Winner, err error) {
	ctx, span := s.tracer.Start(ctx, "RaffleService.Winner",
		trace.WithAttributes(attribute.String("raffle.id", raffleID)))
	defer func() {
		if err != nil && !domainerrors.HasCode(err, domainerrors.CodeNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domainerrors.CodeOf(err)))
		}
		span.End()
	}()

	r, err := s.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if r.Winner != nil {
		return r.Winner, nil
	}
	if r.IsOpen(s.now()) || len(r.SoldNumbers) == 0 {
		return nil, ErrNoWinnerYet
	}

	if _, err := s.winners.draw(ctx, raffleID, s.now()); err != nil {
		return nil, err
	}
	// Re-read so a concurrent draw's result is returned, not a second pick.
	r, err = s.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if r.Winner == nil {
		return nil, ErrNoWinnerYet
	}
	return r.Winner, nil
}

// SettleClosed draws winners for every ended raffle that still needs one
// and returns how many were drawn. A failed draw does not stop the others;
// the failures are returned joined.
func (s *RaffleService) SettleClosed(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.ListAwaitingDraw(ctx, now)
	if err != nil {
		return 0, translateStoreError(err)
	}
	drawn := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return drawn, errors.Join(append(errs, err)...)
		}
		w, err := s.winners.draw(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("raffle %s: %w", id, err))
			continue
		}
		if w != nil {
			drawn++
		}
	}
	return drawn, errors.Join(errs...)
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
