package fees

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/school-portal/portal/internal/shared"
)

// ListHeads returns every fee head ordered by id.
func (s *Service) ListHeads(ctx context.Context) ([]FeeHead, error) {
	return s.repo.ListHeads(ctx)
}

// CreateHead adds a fee head. Head names are unique.
func (s *Service) CreateHead(ctx context.Context, in CreateHeadInput) (FeeHead, error) {
	in.Name = strings.TrimSpace(in.Name)
	verr := &shared.ValidationError{}
	validateStruct(s.validator, in, verr)
	if err := verr.OrNil(); err != nil {
		return FeeHead{}, err
	}
	var head FeeHead
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateHead(ctx, in)
		if err != nil {
			return err
		}
		head = created
		return nil
	})
	if err != nil {
		return FeeHead{}, err
	}
	s.bumpRules(ctx)
	return head, nil
}

// UpdateHead renames a fee head or changes its admission flag. A head
// referenced by any fee structure is immutable.
func (s *Service) UpdateHead(ctx context.Context, id int64, in UpdateHeadInput) (FeeHead, error) {
	in.Name = strings.TrimSpace(in.Name)
	verr := &shared.ValidationError{}
	validateStruct(s.validator, in, verr)
	if err := verr.OrNil(); err != nil {
		return FeeHead{}, err
	}
	var head FeeHead
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetHead(ctx, id); err != nil {
			return err
		}
		refs, err := tx.CountHeadStructures(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return conflict(fmt.Sprintf("fee head %d is used by %d fee structure(s)", id, refs))
		}
		head, err = tx.UpdateHead(ctx, id, in)
		return err
	})
	if err != nil {
		return FeeHead{}, err
	}
	s.bumpRules(ctx)
	return head, nil
}

// DeleteHead removes a fee head that no fee structure references.
func (s *Service) DeleteHead(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetHead(ctx, id); err != nil {
			return err
		}
		refs, err := tx.CountHeadStructures(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return conflict(fmt.Sprintf("fee head %d is used by %d fee structure(s)", id, refs))
		}
		return tx.DeleteHead(ctx, id)
	})
	if err != nil {
		return err
	}
	s.bumpRules(ctx)
	return nil
}

// ListStructures returns rules ordered by class, head and specificity.
func (s *Service) ListStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error) {
	return s.repo.ListStructures(ctx, filter)
}

// CreateStructure adds a fee rule. A rule with the same class, year, head,
// stream and subject count already existing is a conflict.
func (s *Service) CreateStructure(ctx context.Context, in CreateStructureInput) (FeeStructure, error) {
	if in.Stream != nil {
		trimmed := strings.TrimSpace(*in.Stream)
		if trimmed == "" || strings.EqualFold(trimmed, "ALL") {
			in.Stream = nil
		} else {
			in.Stream = &trimmed
		}
	}
	verr := &shared.ValidationError{}
	validateStruct(s.validator, in, verr)
	checkAmount(verr, "amount", in.Amount)
	if err := verr.OrNil(); err != nil {
		return FeeStructure{}, err
	}
	var created FeeStructure
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetHead(ctx, in.FeeHeadID); err != nil {
			return err
		}
		st, err := tx.CreateStructure(ctx, in)
		if err != nil {
			return err
		}
		created = st
		return nil
	})
	if err != nil {
		return FeeStructure{}, err
	}
	s.logger.Info("fee structure created",
		slog.Int64("fee_structure_id", created.ID),
		slog.Int64("class_id", created.ClassID),
		slog.Int64("academic_year_id", created.AcademicYearID),
		slog.Int64("fee_head_id", created.FeeHeadID))
	s.bumpRules(ctx)
	return created, nil
}

// UpdateStructure changes the amount and due date of a rule. The amount may
// not drop below what any student has already paid against it.
func (s *Service) UpdateStructure(ctx context.Context, id int64, in UpdateStructureInput) (FeeStructure, error) {
	verr := &shared.ValidationError{}
	checkAmount(verr, "amount", in.Amount)
	if err := verr.OrNil(); err != nil {
		return FeeStructure{}, err
	}
	var updated FeeStructure
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetStructure(ctx, id); err != nil {
			return err
		}
		paid, err := tx.MaxStudentPaid(ctx, id)
		if err != nil {
			return err
		}
		if in.Amount.LessThan(paid) {
			return conflict(fmt.Sprintf("amount %s is below %s already paid by a student", in.Amount.StringFixed(2), paid.StringFixed(2)))
		}
		updated, err = tx.UpdateStructure(ctx, id, in)
		return err
	})
	if err != nil {
		return FeeStructure{}, err
	}
	s.bumpRules(ctx)
	return updated, nil
}

// DeleteStructure removes a rule that has no payments recorded against it.
func (s *Service) DeleteStructure(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetStructure(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountStructurePayments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return conflict(fmt.Sprintf("fee structure %d has %d payment(s)", id, n))
		}
		return tx.DeleteStructure(ctx, id)
	})
	if err != nil {
		return err
	}
	s.bumpRules(ctx)
	return nil
}

func (s *Service) bumpRules(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rule cache bump failed", slog.Any("error", err))
	}
}
