package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

// validateRecipientAddress checks the payout address format for the target
// network before an order is placed upstream.
func validateRecipientAddress(network, address string) error {
	if address == "" {
		return entities.NewValidationError("recipient_address", "must not be empty")
	}

	switch network {
	case "ethereum", "bsc", "polygon":
		if !common.IsHexAddress(address) {
			return entities.NewValidationError("recipient_address", "not a valid hex address for "+network)
		}
	case "solana":
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return entities.NewValidationError("recipient_address", "not a valid base58 address for solana")
		}
	default:
		// Bitcoin and other networks pass through; the upstream provider
		// rejects malformed addresses on order creation.
	}
	return nil
}
