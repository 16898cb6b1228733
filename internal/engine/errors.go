package engine

import (
	"errors"

	"BatchLedger/internal/batch"
	"BatchLedger/internal/ledger"
	fpmath "BatchLedger/internal/math"
	"BatchLedger/internal/relayer"
	"BatchLedger/internal/state"
)

// Domain errors. Most are aliases into the package that owns the
// invariant, so errors.Is works against either name.
var (
	ErrLedgerPaused             = errors.New("engine: ledger paused")
	ErrInvalidRelayer           = errors.New("engine: relayer not authorized")
	ErrInvalidAdmin             = errors.New("engine: caller is not the admin")
	ErrInsufficientSignatures   = errors.New("engine: quorum not reached")
	ErrInvalidDataHash          = errors.New("engine: batch data hash mismatch")
	ErrPositionNotFound         = errors.New("engine: position not found")
	ErrPositionNotLiquidatable  = errors.New("engine: position above maintenance margin")
	ErrInvalidPositionSide      = errors.New("engine: position side conflict")
	ErrInvalidTradeAmount       = errors.New("engine: trade size out of range")
	ErrInvalidPrice             = errors.New("engine: price must be positive")
	ErrFundingNotDue            = errors.New("engine: funding interval not elapsed")

	ErrOverflow                  = fpmath.ErrOverflow
	ErrInsufficientMargin        = ledger.ErrInsufficientBalance
	ErrBatchAlreadyExists        = batch.ErrAlreadyExists
	ErrBatchNotFound             = batch.ErrNotFound
	ErrBatchExpired              = batch.ErrExpired
	ErrBatchAlreadyExecuted      = batch.ErrAlreadyExecuted
	ErrDuplicateSignature        = batch.ErrDuplicateSignature
	ErrInvalidMarket             = state.ErrInvalidMarket
	ErrInvalidLeverage           = state.ErrInvalidLeverage
	ErrADLNotRequired            = state.ErrADLNotRequired
	ErrNoOpposingPositions       = state.ErrNoOpposingPositions
	ErrTooManyRelayers           = relayer.ErrTooManyRelayers
	ErrInvalidRequiredSignatures = relayer.ErrInvalidRequiredSignatures
	ErrUnknownRelayer            = relayer.ErrUnknownRelayer
	ErrDuplicateRelayer          = relayer.ErrDuplicateRelayer
)
