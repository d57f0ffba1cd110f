package frombtc

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// buildMerkleProof computes the sibling-hash path from txid at position
// index within the block's ordered txids, following Bitcoin's standard
// (possibly-duplicated-last-leaf) binary Merkle tree construction. The
// smart-chain verifier folds the path back up to compare against the
// block header's merkle root (§4.8 claim proof: storedHeader + merkleProof).
func buildMerkleProof(txids []string, index uint32) ([][32]byte, error) {
	if int(index) >= len(txids) {
		return nil, fmt.Errorf("frombtc: merkle index %d out of range for %d txids", index, len(txids))
	}

	level := make([]chainhash.Hash, len(txids))
	for i, txid := range txids {
		h, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, fmt.Errorf("frombtc: invalid txid %q: %w", txid, err)
		}
		level[i] = *h
	}

	var proof [][32]byte
	pos := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		siblingIdx := pos ^ 1
		proof = append(proof, [32]byte(level[siblingIdx]))

		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		level = next
		pos /= 2
	}
	return proof, nil
}

func hashPair(a, b chainhash.Hash) chainhash.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	first := chainhash.HashH(buf[:])
	return chainhash.HashH(first[:])
}
