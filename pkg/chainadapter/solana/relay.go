// Package solana - BTC Relay Driver (§4.2) against an Anchor-style SPV
// header-store program, the Solana counterpart to ethereum/relay.go.
package solana

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/btcswap/intermediary/pkg/chainadapter"
	"github.com/btcswap/intermediary/pkg/relay"
	"github.com/btcswap/intermediary/pkg/spv"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	discSaveMainHeaders    = discriminator("save_main_headers")
	discSaveNewForkHeaders = discriminator("save_new_fork_headers")
	discSaveForkHeaders    = discriminator("save_fork_headers")
	discSaveInitialHeader  = discriminator("save_initial_header")
)

// tipAccount mirrors the relay program's singleton tip account, Borsh-
// decoded the same way escrowAccount is in adapter.go.
type tipAccount struct {
	CommitHash  [32]byte
	ChainWork   [32]byte
	BlockHeight uint32
}

// storedHeaderAccount mirrors one per-commitHash stored-header record.
type storedHeaderAccount struct {
	ChainWork          [32]byte
	LastDiffAdjustment uint32
	BlockHeight        uint32
}

func tipPDA(programID solanago.PublicKey) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("tip")}, programID)
}

func storedHeaderPDA(programID solanago.PublicKey, commitHash [32]byte) (solanago.PublicKey, uint8, error) {
	return solanago.FindProgramAddress([][]byte{[]byte("header"), commitHash[:]}, programID)
}

// RelayDriver implements relay.Driver against the relay program, sharing
// this package's RPCHelper so its health-tracking and priority-fee
// behavior matches the swap-escrow Adapter exactly.
type RelayDriver struct {
	chainID   string
	programID solanago.PublicKey
	rpc       *RPCHelper
}

func NewRelayDriver(chainID string, programID solanago.PublicKey, rpcHelper *RPCHelper) *RelayDriver {
	return &RelayDriver{chainID: chainID, programID: programID, rpc: rpcHelper}
}

func (d *RelayDriver) ChainID() string { return d.chainID }

// Anchor transactions cap at 1232 bytes total; 80-byte headers leave room
// for roughly a dozen per instruction once account metas and the
// discriminator are accounted for.
func (d *RelayDriver) MaxHeadersPerTx() int     { return 12 }
func (d *RelayDriver) MaxForkHeadersPerTx() int { return 12 }

func (d *RelayDriver) GetTipData(ctx context.Context) (*relay.TipData, error) {
	pda, _, err := tipPDA(d.programID)
	if err != nil {
		return nil, err
	}
	data, err := d.rpc.GetAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	if len(data) <= 8 {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, "relay tip account not initialized", nil)
	}
	var tip tipAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&tip); err != nil {
		return nil, fmt.Errorf("solana: decode tip account: %w", err)
	}
	return &relay.TipData{
		CommitHash:  tip.CommitHash,
		ChainWork:   new(big.Int).SetBytes(tip.ChainWork[:]),
		BlockHeight: tip.BlockHeight,
	}, nil
}

func (d *RelayDriver) RetrieveStoredHeader(ctx context.Context, ref relay.BlockRef, requiredHeight *uint32) (*relay.StoredHeaderLookup, error) {
	var commitHash [32]byte
	copy(commitHash[:], ref.BlockHash[:])
	pda, _, err := storedHeaderPDA(d.programID, commitHash)
	if err != nil {
		return nil, err
	}
	data, err := d.rpc.GetAccountData(ctx, pda)
	if err != nil {
		return nil, err
	}
	if len(data) <= 8 {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeTxNotFound, "stored header not found", nil)
	}
	var stored storedHeaderAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&stored); err != nil {
		return nil, fmt.Errorf("solana: decode stored header: %w", err)
	}
	if requiredHeight != nil && stored.BlockHeight != *requiredHeight {
		return nil, chainadapter.NewNonRetryableError("ERR_HEIGHT_MISMATCH", "stored header height mismatch", nil)
	}
	result := &spv.StoredHeader{
		LastDiffAdjustment: stored.LastDiffAdjustment,
		BlockHeight:        stored.BlockHeight,
	}
	result.ChainWork.SetBytes(stored.ChainWork[:])
	return &relay.StoredHeaderLookup{Header: result, TipHeight: stored.BlockHeight}, nil
}

func (d *RelayDriver) RetrieveLatestKnownBlockLog(ctx context.Context, src relay.MainChainSource) (*relay.BlockLog, error) {
	tip, err := d.GetTipData(ctx)
	if err != nil {
		return nil, err
	}
	ok, err := src.IsMainChainBlock(ctx, tip.BlockHeight, tip.CommitHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chainadapter.NewNonRetryableError("ERR_REORG_WALK_EXHAUSTED", "relay tip is not on the main chain and no walk-back is implemented for this height", nil)
	}
	return &relay.BlockLog{ForkID: 0}, nil
}

func encodeStoredHeaderSol(s *spv.StoredHeader) []byte {
	buf := make([]byte, 0, 32+4+4+40+80)
	work := s.ChainWork.Bytes32()
	buf = append(buf, work[:]...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], s.LastDiffAdjustment)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], s.BlockHeight)
	buf = append(buf, tmp[:]...)
	for _, ts := range s.PrevBlockTimestamps {
		binary.BigEndian.PutUint32(tmp[:], ts)
		buf = append(buf, tmp[:]...)
	}
	buf = append(buf, s.Header.Encode()...)
	return buf
}

func encodeHeaderBatchSol(headers []spv.Header) []byte {
	buf := make([]byte, 0, len(headers)*80)
	for _, h := range headers {
		buf = append(buf, h.Encode()...)
	}
	return buf
}

func (d *RelayDriver) submitHeaders(ctx context.Context, signer chainadapter.Signer, disc [8]byte, args interface{}, headers []spv.Header, prev *spv.StoredHeader) (*relay.SaveHeadersResult, error) {
	payer, err := parsePubkey(signer.GetAddress())
	if err != nil {
		return nil, err
	}
	tipPda, _, err := tipPDA(d.programID)
	if err != nil {
		return nil, err
	}
	data, err := encodeInstructionData(disc, args)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.Meta(tipPda).WRITE(),
		solanago.Meta(payer).WRITE().SIGNER(),
	}
	instr := newInstruction(d.programID, payer, accounts, data)

	blockhash, err := d.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solanago.NewTransaction([]solanago.Instruction{instr}, blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("solana: build relay transaction: %w", err)
	}

	solSigner, ok := signer.(*Signer)
	if !ok {
		return nil, fmt.Errorf("solana: relay driver requires a *Signer")
	}
	if _, err := tx.Sign(solSigner.signerFunc()); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", err.Error(), err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := d.rpc.SendTransaction(ctx, raw); err != nil {
		return nil, err
	}

	computed := relay.PrecomputeChain(prev, headers)
	var last *spv.StoredHeader
	if len(computed) > 0 {
		last = computed[len(computed)-1]
	}
	return &relay.SaveHeadersResult{
		LastStoredHeader:      last,
		Tx:                    &SolTx{chainID: d.chainID, tx: tx},
		ComputedStoredHeaders: computed,
	}, nil
}

func (d *RelayDriver) SaveMainHeaders(ctx context.Context, signer chainadapter.Signer, mainHeaders []spv.Header, prevStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	args := struct {
		Headers          []byte
		PrevStoredHeader []byte
	}{encodeHeaderBatchSol(mainHeaders), encodeStoredHeaderSol(prevStoredHeader)}
	return d.submitHeaders(ctx, signer, discSaveMainHeaders, args, mainHeaders, prevStoredHeader)
}

func (d *RelayDriver) SaveNewForkHeaders(ctx context.Context, signer chainadapter.Signer, forkHeaders []spv.Header, forkStartStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	args := struct {
		Headers               []byte
		ForkStartStoredHeader []byte
	}{encodeHeaderBatchSol(forkHeaders), encodeStoredHeaderSol(forkStartStoredHeader)}
	result, err := d.submitHeaders(ctx, signer, discSaveNewForkHeaders, args, forkHeaders, forkStartStoredHeader)
	if err != nil {
		return nil, err
	}
	result.ForkID = 1
	return result, nil
}

func (d *RelayDriver) SaveForkHeaders(ctx context.Context, signer chainadapter.Signer, forkID uint64, forkHeaders []spv.Header, prevForkStoredHeader *spv.StoredHeader, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	args := struct {
		ForkID               uint64
		Headers              []byte
		PrevForkStoredHeader []byte
	}{forkID, encodeHeaderBatchSol(forkHeaders), encodeStoredHeaderSol(prevForkStoredHeader)}
	result, err := d.submitHeaders(ctx, signer, discSaveForkHeaders, args, forkHeaders, prevForkStoredHeader)
	if err != nil {
		return nil, err
	}
	result.ForkID = forkID
	return result, nil
}

func (d *RelayDriver) SaveInitialHeader(ctx context.Context, signer chainadapter.Signer, header spv.Header, epochStart uint32, prevTimestamps [10]uint32, feeRate *big.Int) (*relay.SaveHeadersResult, error) {
	args := struct {
		Header         []byte
		EpochStart     uint32
		PrevTimestamps [10]uint32
	}{header.Encode(), epochStart, prevTimestamps}
	initial := spv.NewInitialStoredHeader(header, epochStart, 0, prevTimestamps)
	return d.submitHeaders(ctx, signer, discSaveInitialHeader, args, []spv.Header{header}, &initial)
}

var _ relay.Driver = (*RelayDriver)(nil)
