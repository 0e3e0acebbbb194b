/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// DIDRegistryABI is the interface of the DID registry contract.
const DIDRegistryABI = `[
{"type":"function","name":"registerDID","stateMutability":"nonpayable",
 "inputs":[{"name":"did","type":"string"},{"name":"metadataURI","type":"string"},
  {"name":"chains","type":"string[]"},{"name":"wallets","type":"string[]"},
  {"name":"messages","type":"string[]"},{"name":"signatures","type":"bytes[]"}],
 "outputs":[]},
{"type":"function","name":"getDIDRecord","stateMutability":"view",
 "inputs":[{"name":"did","type":"string"}],
 "outputs":[{"name":"did","type":"string"},{"name":"metadataURI","type":"string"},
  {"name":"wallets","type":"string[]"},{"name":"chains","type":"string[]"},
  {"name":"registeredAt","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"owner","type":"address"}]},
{"type":"function","name":"didToOwner","stateMutability":"view",
 "inputs":[{"name":"did","type":"string"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"isWalletVerifiedForDID","stateMutability":"view",
 "inputs":[{"name":"did","type":"string"},{"name":"chain","type":"string"},{"name":"wallet","type":"string"}],
 "outputs":[{"name":"","type":"bool"}]},
{"type":"event","name":"WalletProofVerified","anonymous":false,
 "inputs":[{"name":"did","type":"string","indexed":false},{"name":"chain","type":"string","indexed":false},
  {"name":"wallet","type":"string","indexed":false}]},
{"type":"event","name":"DIDRegistered","anonymous":false,
 "inputs":[{"name":"did","type":"string","indexed":false},{"name":"owner","type":"address","indexed":true},
  {"name":"metadataURI","type":"string","indexed":false}]}
]`

// SBTRegistryABI is the interface of the soulbound token contract.
const SBTRegistryABI = `[
{"type":"function","name":"mintSBT","stateMutability":"nonpayable",
 "inputs":[{"name":"to","type":"address"},{"name":"did","type":"string"},{"name":"uri","type":"string"},
  {"name":"vcHash","type":"bytes32"}],
 "outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"registerVC","stateMutability":"nonpayable",
 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"vcHash","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"holderToken","stateMutability":"view",
 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"ownerOf","stateMutability":"view",
 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"tokenURI","stateMutability":"view",
 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"tokenDID","stateMutability":"view",
 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"getLatestVC","stateMutability":"view",
 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
{"type":"function","name":"getAllVCHashes","stateMutability":"view",
 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"bytes32[]"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable",
 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
 "outputs":[]},
{"type":"event","name":"SBTMinted","anonymous":false,
 "inputs":[{"name":"owner","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true},
  {"name":"did","type":"string","indexed":false}]},
{"type":"event","name":"VCRegistered","anonymous":false,
 "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"vcHash","type":"bytes32","indexed":false}]}
]`

// nolint:gochecknoglobals
var (
	didRegistryABI = mustParseABI(DIDRegistryABI)
	sbtRegistryABI = mustParseABI(SBTRegistryABI)
)

// DIDRegistryContractABI returns the parsed DID registry interface.
func DIDRegistryContractABI() *abi.ABI {
	return &didRegistryABI
}

// SBTRegistryContractABI returns the parsed soulbound token interface.
func SBTRegistryContractABI() *abi.ABI {
	return &sbtRegistryABI
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}

	return parsed
}
