package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// positionABI is the read-only surface of the position diamond. Facets are
// deployed independently, so any of these may be missing on a given chain.
const positionABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],
   "outputs":[{"name":"balance","type":"uint256"}]},
  {"type":"function","name":"tokenOfOwnerByIndex","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],
   "outputs":[{"name":"tokenId","type":"uint256"}]},
  {"type":"function","name":"getPositionKey","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"positionKey","type":"bytes32"}]},
  {"type":"function","name":"getPoolId","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"poolId","type":"uint256"}]},
  {"type":"function","name":"getPositionPoolMemberships","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"memberships","type":"tuple[]","components":[
     {"name":"poolId","type":"uint256"},
     {"name":"isMember","type":"bool"},
     {"name":"hasBalance","type":"bool"},
     {"name":"hasActiveLoans","type":"bool"}]}]},
  {"type":"function","name":"getPositionState","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"poolId","type":"uint256"}],
   "outputs":[{"name":"state","type":"tuple","components":[
     {"name":"principal","type":"uint256"},
     {"name":"accruedYield","type":"uint256"},
     {"name":"rollingLoan","type":"tuple","components":[
       {"name":"active","type":"bool"},
       {"name":"principalRemaining","type":"uint256"}]},
     {"name":"fixedLoanIds","type":"uint256[]"},
     {"name":"totalDebt","type":"uint256"},
     {"name":"isDelinquent","type":"bool"},
     {"name":"eligibleForPenalty","type":"bool"}]}]},
  {"type":"function","name":"getPositionPoolDataPoolOnly","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"poolId","type":"uint256"}],
   "outputs":[{"name":"data","type":"tuple","components":[
     {"name":"principal","type":"uint256"},
     {"name":"poolDebt","type":"uint256"}]}]},
  {"type":"function","name":"getPositionDirectState","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"poolId","type":"uint256"}],
   "outputs":[{"name":"locked","type":"uint256"},{"name":"lent","type":"uint256"}]},
  {"type":"function","name":"getPositionEncumbrance","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"poolId","type":"uint256"}],
   "outputs":[{"name":"encumbrance","type":"tuple","components":[
     {"name":"directLocked","type":"uint256"},
     {"name":"directLent","type":"uint256"},
     {"name":"directOfferEscrow","type":"uint256"},
     {"name":"indexEncumbered","type":"uint256"},
     {"name":"totalEncumbered","type":"uint256"}]}]},
  {"type":"function","name":"pendingActiveCreditByPosition","stateMutability":"view",
   "inputs":[{"name":"poolId","type":"uint256"},{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"pending","type":"uint256"}]},
  {"type":"function","name":"getAuctionsByPosition","stateMutability":"view",
   "inputs":[{"name":"positionKey","type":"bytes32"},{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],
   "outputs":[{"name":"ids","type":"uint256[]"},{"name":"total","type":"uint256"}]},
  {"type":"function","name":"getAuctionsByPositionId","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"},{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],
   "outputs":[{"name":"ids","type":"uint256[]"},{"name":"total","type":"uint256"}]},
  {"type":"function","name":"getActiveAuctions","stateMutability":"view",
   "inputs":[{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],
   "outputs":[{"name":"ids","type":"uint256[]"},{"name":"total","type":"uint256"}]},
  {"type":"function","name":"getAmmAuction","stateMutability":"view",
   "inputs":[{"name":"auctionId","type":"uint256"}],
   "outputs":[{"name":"auction","type":"tuple","components":[
     {"name":"makerPositionKey","type":"bytes32"},
     {"name":"makerPositionId","type":"uint256"},
     {"name":"poolIdA","type":"uint256"},
     {"name":"poolIdB","type":"uint256"},
     {"name":"reserveA","type":"uint256"},
     {"name":"reserveB","type":"uint256"},
     {"name":"startTime","type":"uint64"},
     {"name":"endTime","type":"uint64"},
     {"name":"active","type":"bool"},
     {"name":"finalized","type":"bool"}]}]}
]`

// parsedABI is parsed once at init; a malformed constant is a programming
// error.
var parsedABI = mustParseABI(positionABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse position abi: " + err.Error())
	}
	return parsed
}
