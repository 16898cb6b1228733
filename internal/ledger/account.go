package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope partitions the chart of accounts.
type AccountScope uint8

const (
	ScopeUser AccountScope = iota + 1
	ScopeSystem
	ScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeSystem:
		return "system"
	case ScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AccountSubType narrows an account within its scope.
type AccountSubType uint8

const (
	SubTypeCollateral AccountSubType = iota + 1 // user free balance
	SubTypeReserved                             // user margin locked against positions
	SubTypeFees                                 // system trading fee income
	SubTypeInsuranceFund                        // system liquidation penalty pool
	SubTypeFundingPool                          // system funding flow-through
	SubTypeSocializedLoss                       // system unbacked loss counterweight
	SubTypeSettlement                           // external pnl counterparty
)

func (s AccountSubType) String() string {
	switch s {
	case SubTypeCollateral:
		return "collateral"
	case SubTypeReserved:
		return "reserved"
	case SubTypeFees:
		return "fees"
	case SubTypeInsuranceFund:
		return "insurance_fund"
	case SubTypeFundingPool:
		return "funding_pool"
	case SubTypeSocializedLoss:
		return "socialized_loss"
	case SubTypeSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// AssetID identifies the settlement asset. The ledger settles a single
// collateral asset today.
type AssetID uint32

const AssetUSDT AssetID = 1

// AccountKey addresses one balance bucket. It is comparable and used
// directly as a map key.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey builds a user-scoped key.
func NewUserAccountKey(user uuid.UUID, subType AccountSubType, asset AssetID) AccountKey {
	return AccountKey{Scope: ScopeUser, EntityID: user, SubType: subType, AssetID: asset}
}

// NewSystemAccountKey builds a system pool key. System pools have no
// entity component.
func NewSystemAccountKey(subType AccountSubType, asset AssetID) AccountKey {
	return AccountKey{Scope: ScopeSystem, SubType: subType, AssetID: asset}
}

// NewExternalAccountKey builds the external settlement counterparty.
func NewExternalAccountKey(asset AssetID) AccountKey {
	return AccountKey{Scope: ScopeExternal, SubType: SubTypeSettlement, AssetID: asset}
}

// AccountPath renders a stable textual form for persistence and logs.
func (k AccountKey) AccountPath() string {
	if k.Scope == ScopeUser {
		return fmt.Sprintf("%s:%s:%s:%d", k.Scope, uuid.UUID(k.EntityID), k.SubType, k.AssetID)
	}
	return fmt.Sprintf("%s:%s:%d", k.Scope, k.SubType, k.AssetID)
}
