// Package ethereum - escrow contract ABI and event topics
package ethereum

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// escrowABIJSON describes the swap escrow contract every EthereumAdapter talks
// to: initialize/claim/refund entry points matching the four SwapKind shapes,
// a deposit/withdraw/transfer vault surface for the intermediary's own
// liquidity, and a commitments() view the adapter polls for on-chain status.
const escrowABIJSON = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
		{"name":"paymentHash","type":"bytes32"},
		{"name":"offerer","type":"address"},
		{"name":"claimer","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sequence","type":"uint64"},
		{"name":"expiry","type":"uint64"},
		{"name":"escrowNonce","type":"uint64"},
		{"name":"kind","type":"uint8"},
		{"name":"payOut","type":"bool"},
		{"name":"securityDeposit","type":"uint256"},
		{"name":"claimerBounty","type":"uint256"},
		{"name":"authTimeout","type":"uint64"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"initializePayIn","stateMutability":"payable","inputs":[
		{"name":"paymentHash","type":"bytes32"},
		{"name":"offerer","type":"address"},
		{"name":"claimer","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sequence","type":"uint64"},
		{"name":"expiry","type":"uint64"},
		{"name":"escrowNonce","type":"uint64"},
		{"name":"kind","type":"uint8"},
		{"name":"payOut","type":"bool"},
		{"name":"securityDeposit","type":"uint256"},
		{"name":"claimerBounty","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"claimWithSecret","stateMutability":"nonpayable","inputs":[
		{"name":"paymentHash","type":"bytes32"},
		{"name":"secret","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"claimWithTxData","stateMutability":"nonpayable","inputs":[
		{"name":"paymentHash","type":"bytes32"},
		{"name":"rawTx","type":"bytes"},
		{"name":"vout","type":"uint32"},
		{"name":"storedHeader","type":"bytes"},
		{"name":"merkleProof","type":"bytes32[]"}
	],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
		{"name":"paymentHash","type":"bytes32"}
	],"outputs":[]},
	{"type":"function","name":"refundWithAuthorization","stateMutability":"nonpayable","inputs":[
		{"name":"paymentHash","type":"bytes32"},
		{"name":"authTimeout","type":"uint64"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"commitments","stateMutability":"view","inputs":[
		{"name":"paymentHash","type":"bytes32"}
	],"outputs":[
		{"name":"status","type":"uint8"},
		{"name":"offerer","type":"address"},
		{"name":"claimer","type":"address"},
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sequence","type":"uint64"},
		{"name":"expiry","type":"uint64"},
		{"name":"escrowNonce","type":"uint64"},
		{"name":"kind","type":"uint8"}
	]},
	{"type":"function","name":"vaultBalance","stateMutability":"view","inputs":[
		{"name":"intermediary","type":"address"},
		{"name":"token","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"reputation","stateMutability":"view","inputs":[
		{"name":"intermediary","type":"address"},
		{"name":"token","type":"address"}
	],"outputs":[
		{"name":"success","type":"uint256"},
		{"name":"failed","type":"uint256"},
		{"name":"coopClose","type":"uint256"}
	]},
	{"type":"event","name":"Initialize","anonymous":false,"inputs":[
		{"name":"paymentHash","type":"bytes32","indexed":true},
		{"name":"offerer","type":"address","indexed":false},
		{"name":"claimer","type":"address","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"sequence","type":"uint64","indexed":false},
		{"name":"expiry","type":"uint64","indexed":false},
		{"name":"kind","type":"uint8","indexed":false}
	]},
	{"type":"event","name":"Claim","anonymous":false,"inputs":[
		{"name":"paymentHash","type":"bytes32","indexed":true},
		{"name":"secret","type":"bytes32","indexed":false}
	]},
	{"type":"event","name":"Refund","anonymous":false,"inputs":[
		{"name":"paymentHash","type":"bytes32","indexed":true}
	]}
]`

var escrowABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic("ethereum: invalid escrow abi: " + err.Error())
	}
	escrowABI = parsed
}

var (
	topicInitialize = escrowABI.Events["Initialize"].ID
	topicClaim      = escrowABI.Events["Claim"].ID
	topicRefund     = escrowABI.Events["Refund"].ID
)

// onchainCommitStatus mirrors the escrow contract's internal Commitment.Status
// enum. It is distinct from chainadapter.CommitStatus, which also folds in
// expiry/refundability computed off-chain from the current block time.
type onchainCommitStatus uint8

const (
	onchainNotCommitted onchainCommitStatus = iota
	onchainCommitted
	onchainClaimed
	onchainRefunded
)

// commitmentView is the decoded result of a commitments() call.
type commitmentView struct {
	Status      onchainCommitStatus
	Offerer     common.Address
	Claimer     common.Address
	Token       common.Address
	Amount      *big.Int
	Sequence    uint64
	Expiry      uint64
	EscrowNonce uint64
	Kind        uint8
}

func packInitialize(args initializeArgs) ([]byte, error) {
	return escrowABI.Pack("initialize",
		args.PaymentHash, args.Offerer, args.Claimer, args.Token, args.Amount,
		args.Sequence, args.Expiry, args.EscrowNonce, args.Kind, args.PayOut,
		args.SecurityDeposit, args.ClaimerBounty, args.AuthTimeout, args.Signature)
}

func packInitializePayIn(args initializeArgs) ([]byte, error) {
	return escrowABI.Pack("initializePayIn",
		args.PaymentHash, args.Offerer, args.Claimer, args.Token, args.Amount,
		args.Sequence, args.Expiry, args.EscrowNonce, args.Kind, args.PayOut,
		args.SecurityDeposit, args.ClaimerBounty)
}

func packClaimWithSecret(paymentHash [32]byte, secret [32]byte) ([]byte, error) {
	return escrowABI.Pack("claimWithSecret", paymentHash, secret)
}

func packClaimWithTxData(paymentHash [32]byte, rawTx []byte, vout uint32, storedHeader []byte, merkleProof [][32]byte) ([]byte, error) {
	return escrowABI.Pack("claimWithTxData", paymentHash, rawTx, vout, storedHeader, merkleProof)
}

func packRefund(paymentHash [32]byte) ([]byte, error) {
	return escrowABI.Pack("refund", paymentHash)
}

func packRefundWithAuthorization(paymentHash [32]byte, authTimeout uint64, signature []byte) ([]byte, error) {
	return escrowABI.Pack("refundWithAuthorization", paymentHash, authTimeout, signature)
}

func packDeposit(token common.Address, amount *big.Int) ([]byte, error) {
	return escrowABI.Pack("deposit", token, amount)
}

func packWithdraw(token common.Address, amount *big.Int) ([]byte, error) {
	return escrowABI.Pack("withdraw", token, amount)
}

func packTransfer(token, to common.Address, amount *big.Int) ([]byte, error) {
	return escrowABI.Pack("transfer", token, to, amount)
}

func packCommitments(paymentHash [32]byte) ([]byte, error) {
	return escrowABI.Pack("commitments", paymentHash)
}

func packVaultBalance(intermediary, token common.Address) ([]byte, error) {
	return escrowABI.Pack("vaultBalance", intermediary, token)
}

func unpackVaultBalance(data []byte) (*big.Int, error) {
	values, err := escrowABI.Unpack("vaultBalance", data)
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// reputationView mirrors the glossary's "intermediary reputation" counters:
// per-(address, token) success/fail/coop-close counts used as the sentinel
// for "vault initialized" (§4.5 step 3).
type reputationView struct {
	Success   *big.Int
	Failed    *big.Int
	CoopClose *big.Int
}

func packReputation(intermediary, token common.Address) ([]byte, error) {
	return escrowABI.Pack("reputation", intermediary, token)
}

func unpackReputation(data []byte) (*reputationView, error) {
	values, err := escrowABI.Unpack("reputation", data)
	if err != nil {
		return nil, err
	}
	return &reputationView{
		Success:   values[0].(*big.Int),
		Failed:    values[1].(*big.Int),
		CoopClose: values[2].(*big.Int),
	}, nil
}

func unpackCommitments(data []byte) (*commitmentView, error) {
	values, err := escrowABI.Unpack("commitments", data)
	if err != nil {
		return nil, err
	}
	return &commitmentView{
		Status:      onchainCommitStatus(values[0].(uint8)),
		Offerer:     values[1].(common.Address),
		Claimer:     values[2].(common.Address),
		Token:       values[3].(common.Address),
		Amount:      values[4].(*big.Int),
		Sequence:    values[5].(uint64),
		Expiry:      values[6].(uint64),
		EscrowNonce: values[7].(uint64),
		Kind:        values[8].(uint8),
	}, nil
}

// initializeArgs bundles the initialize/initializePayIn call parameters built
// from a chainadapter.SwapData + optional Authorization.
type initializeArgs struct {
	PaymentHash     [32]byte
	Offerer         common.Address
	Claimer         common.Address
	Token           common.Address
	Amount          *big.Int
	Sequence        uint64
	Expiry          uint64
	EscrowNonce     uint64
	Kind            uint8
	PayOut          bool
	SecurityDeposit *big.Int
	ClaimerBounty   *big.Int
	AuthTimeout     uint64
	Signature       []byte
}

func eventTopicName(topic common.Hash) string {
	switch topic {
	case topicInitialize:
		return "Initialize"
	case topicClaim:
		return "Claim"
	case topicRefund:
		return "Refund"
	default:
		return ""
	}
}
