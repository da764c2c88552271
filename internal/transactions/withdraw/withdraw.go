// Package withdraw builds witnesses for the withdraw circuit and drives Groth16
// proving and verification for withdrawals.
//
// Two provers implement Prover. Groth16Prover needs the compiled circuit and keys.
// SimulatedProver produces structurally valid proofs that never pass a pairing
// check; it can only be built with an explicit opt-in and is meant for
// integration tests without artifacts.
package withdraw

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"shieldedpool/internal/field"
	"shieldedpool/internal/merkle"
	"shieldedpool/internal/poseidon"
	"shieldedpool/internal/zerocash"
)

// Request carries everything needed to prove one withdrawal.
type Request struct {
	Note        *zerocash.DepositNote
	MerkleProof *merkle.Proof
	Recipient   common.Address
	Relayer     common.Address
	Fee         *big.Int
	Refund      *big.Int
}

// AddressToField maps a 20-byte address into the field. Addresses are below 2^160,
// so the mapping is injective.
func AddressToField(a common.Address) field.Element {
	return field.FromBytes(a.Bytes())
}

// FieldToAddress inverts AddressToField. It fails for values that do not fit in 20
// bytes.
func FieldToAddress(e field.Element) (common.Address, error) {
	v := e.BigInt()
	if v.BitLen() > 8*common.AddressLength {
		return common.Address{}, errors.Errorf("withdraw: %s is not an address", e.Hex())
	}
	return common.BigToAddress(v), nil
}

func amountToField(name string, v *big.Int) (field.Element, error) {
	if v == nil {
		return field.Zero(), nil
	}
	if v.Sign() < 0 {
		return field.Element{}, errors.Wrapf(ErrWitnessGeneration, "%s is negative", name)
	}
	if v.Cmp(field.Modulus()) >= 0 {
		return field.Element{}, errors.Wrapf(ErrWitnessGeneration, "%s exceeds the field", name)
	}
	return field.FromBigInt(v), nil
}

// BuildWithdrawWitness checks req against the native hash and returns the full
// circuit assignment together with the public signals it commits to.
//
// The Merkle proof must fold from the note's commitment to its own Root. Whether
// that root is still accepted by the tree is the caller's concern.
func BuildWithdrawWitness(h poseidon.Hasher, depth int, req Request) (*Circuit, PublicSignals, error) {
	var sig PublicSignals
	if req.Note == nil || req.MerkleProof == nil {
		return nil, sig, errors.Wrap(ErrWitnessGeneration, "missing note or merkle proof")
	}
	n, mp := req.Note, req.MerkleProof
	if mp.Depth() != depth || len(mp.PathIndices) != depth {
		return nil, sig, errors.Wrapf(ErrWitnessGeneration, "merkle proof depth %d, circuit depth %d", mp.Depth(), depth)
	}
	if !h.Hash2(n.Secret, n.Nullifier).Equal(n.Commitment) {
		return nil, sig, errors.Wrap(ErrWitnessGeneration, "note commitment does not match secret and nullifier")
	}
	if !h.Hash1(n.Nullifier).Equal(n.NullifierHash) {
		return nil, sig, errors.Wrap(ErrWitnessGeneration, "note nullifier hash does not match nullifier")
	}
	if !mp.Check(h, n.Commitment) {
		return nil, sig, errors.Wrap(ErrWitnessGeneration, "merkle proof does not verify against its root")
	}

	fee, err := amountToField("fee", req.Fee)
	if err != nil {
		return nil, sig, err
	}
	refund, err := amountToField("refund", req.Refund)
	if err != nil {
		return nil, sig, err
	}

	sig = PublicSignals{
		Root:          mp.Root,
		NullifierHash: n.NullifierHash,
		Recipient:     AddressToField(req.Recipient),
		Relayer:       AddressToField(req.Relayer),
		Fee:           fee,
		Refund:        refund,
	}

	w := sig.assign(depth)
	w.Secret = n.Secret.BigInt()
	w.Nullifier = n.Nullifier.BigInt()
	for i := 0; i < depth; i++ {
		w.PathElements[i] = mp.PathElements[i].BigInt()
		w.PathIndices[i] = int(mp.PathIndices[i])
	}
	return w, sig, nil
}
