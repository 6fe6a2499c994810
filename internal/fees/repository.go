package fees

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines fee ledger data access outside write transactions.
type Repository interface {
	// WithTx runs fn in one serializable transaction, retrying it when the
	// store aborts it for a serialization conflict.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListHeads(ctx context.Context) ([]FeeHead, error)
	ListStructures(ctx context.Context, filter StructureFilter) ([]FeeStructure, error)
	ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error)
	GetStudent(ctx context.Context, studentID int64) (StudentRecord, error)

	ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error)
	ListBatchPayments(ctx context.Context, batchID string) ([]Payment, error)
	ListPaymentsOn(ctx context.Context, date Date) ([]ReportTransaction, error)
	SumCollections(ctx context.Context, from, to Date) ([]DayModeTotal, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	ClaimIdempotencyKey(ctx context.Context, key, scope string) error

	GetStudent(ctx context.Context, studentID int64) (StudentRecord, error)
	ListRules(ctx context.Context, classID, yearID int64) ([]FeeStructure, error)
	GetStructure(ctx context.Context, id int64) (FeeStructure, error)
	SumPaid(ctx context.Context, studentID, structureID int64) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, p NewPayment) (Payment, error)

	GetHead(ctx context.Context, id int64) (FeeHead, error)
	CreateHead(ctx context.Context, in CreateHeadInput) (FeeHead, error)
	UpdateHead(ctx context.Context, id int64, in UpdateHeadInput) (FeeHead, error)
	DeleteHead(ctx context.Context, id int64) error
	CountHeadStructures(ctx context.Context, headID int64) (int, error)

	CreateStructure(ctx context.Context, in CreateStructureInput) (FeeStructure, error)
	UpdateStructure(ctx context.Context, id int64, in UpdateStructureInput) (FeeStructure, error)
	DeleteStructure(ctx context.Context, id int64) error
	CountStructurePayments(ctx context.Context, structureID int64) (int, error)
	// MaxStudentPaid is the largest amount any single student has paid against the rule.
	MaxStudentPaid(ctx context.Context, structureID int64) (decimal.Decimal, error)
}
