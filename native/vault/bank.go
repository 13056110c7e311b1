package vault

import (
	"context"
	"math/big"

	"pegvault/crypto"
)

// AssetBank moves assets on behalf of the engine. Collateral and the pegged
// asset enter and leave through the engine's custody account; the pegged
// asset is created and destroyed only through Mint and Burn. Any error aborts
// the calling operation.
type AssetBank interface {
	// TransferIn moves amount of asset from the owner into custody.
	TransferIn(ctx context.Context, asset, from crypto.Address, amount *big.Int) error
	// TransferOut moves amount of asset from custody to the recipient.
	TransferOut(ctx context.Context, asset, to crypto.Address, amount *big.Int) error
	// Mint creates amount of the pegged asset for the recipient.
	Mint(ctx context.Context, to crypto.Address, amount *big.Int) error
	// Burn destroys amount of the pegged asset held in custody.
	Burn(ctx context.Context, amount *big.Int) error
}
