package fevm

import (
	_ "embed"
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func mustUnmarshalABI(artifactJSON []byte) *abi.ABI {
	var artifact struct {
		ABI *abi.ABI
	}
	if err := json.Unmarshal(artifactJSON, &artifact); err != nil {
		panic(err)
	}
	return artifact.ABI
}

//go:embed abi/Payments.json
var artifactPaymentsJSON []byte
var paymentsABI = mustUnmarshalABI(artifactPaymentsJSON)

//go:embed abi/ERC20.json
var artifactERC20JSON []byte
var erc20ABI = mustUnmarshalABI(artifactERC20JSON)

//go:embed abi/WarmStorage.json
var artifactWarmStorageJSON []byte
var warmStorageABI = mustUnmarshalABI(artifactWarmStorageJSON)

//go:embed abi/WarmStorageView.json
var artifactWarmStorageViewJSON []byte
var warmStorageViewABI = mustUnmarshalABI(artifactWarmStorageViewJSON)

//go:embed abi/PDPVerifier.json
var artifactPDPVerifierJSON []byte
var pdpVerifierABI = mustUnmarshalABI(artifactPDPVerifierJSON)
