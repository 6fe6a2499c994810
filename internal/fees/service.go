package fees

import (
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CollectObserver receives the outcome of every collection attempt.
type CollectObserver interface {
	ObserveCollect(outcome, mode string, amount float64, recorded, skipped int)
}

// Options configures optional Service collaborators.
type Options struct {
	Cache    *RuleCache
	Observer CollectObserver
	Logger   *slog.Logger
	// Location decides the calendar date of a payment and what is due today.
	Location *time.Location
	Now      func() time.Time
}

// Service is the fee ledger engine.
type Service struct {
	repo      Repository
	cache     *RuleCache
	observer  CollectObserver
	logger    *slog.Logger
	validator *validator.Validate
	loc       *time.Location
	now       func() time.Time
	batchID   func() string
}

// NewService wires the engine over repo.
func NewService(repo Repository, opts Options) *Service {
	svc := &Service{
		repo:      repo,
		cache:     opts.Cache,
		observer:  opts.Observer,
		logger:    opts.Logger,
		validator: newValidator(),
		loc:       opts.Location,
		now:       opts.Now,
		batchID:   func() string { return uuid.NewString() },
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Today is the current calendar date in the school time zone.
func (s *Service) Today() Date {
	return DateOf(s.now(), s.loc)
}
