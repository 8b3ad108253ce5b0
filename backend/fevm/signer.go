package fevm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/filecoin-project/go-address"
)

// parsePrivateKey decodes a hex string into a secp256k1 private key.
func parsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	hexKey = strings.TrimSpace(hexKey)
	hexKey = strings.TrimPrefix(hexKey, "0x")
	hexKey = strings.TrimPrefix(hexKey, "0X")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("fevm: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("fevm: private key must be 32 bytes, got %d", len(keyBytes))
	}

	privKey := secp256k1.PrivKeyFromBytes(keyBytes)
	if privKey.Key.IsZero() {
		return nil, fmt.Errorf("fevm: private key is zero")
	}

	return privKey, nil
}

// signer holds the transaction signing key of a client account.
type signer struct {
	address common.Address
	opts    *bind.TransactOpts
}

func newSigner(hexKey string, chainID *big.Int) (*signer, error) {
	priv, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("fevm: convert private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("fevm: transactor: %w", err)
	}
	return &signer{
		address: crypto.PubkeyToAddress(key.PublicKey),
		opts:    opts,
	}, nil
}

// transactOpts returns a copy of the signing options bound to ctx.
func (s *signer) transactOpts(ctx context.Context) *bind.TransactOpts {
	opts := *s.opts
	opts.Context = ctx
	return &opts
}

// DelegatedAddress returns the f410 form of an Ethereum address.
func DelegatedAddress(a common.Address) (address.Address, error) {
	return address.NewDelegatedAddress(10, a.Bytes())
}
