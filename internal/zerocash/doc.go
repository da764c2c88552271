// Package zerocash implements the deposit note scheme of the shielded pool.
//
// Overview:
//   - A note holds a random secret and nullifier drawn from the BN254 scalar field
//   - commitment = Poseidon(secret, nullifier) is inserted in the pool's Merkle tree
//   - nullifierHash = Poseidon(nullifier) is revealed once, at withdrawal, to block double spends
//   - Notes are handed to depositors as versioned strings: zcnote-v1-<base64url(JSON)>
//
// Security Model:
//   - Secrets come from crypto/rand by default; NewDeterministicScheme exists for tests only
//   - A decoded note is untrusted until VerifyNote (or DecodeAndVerify) succeeds
//   - The encoded note is the only copy of the secret; losing it loses the deposit
//
// The spent-nullifier Ledger and the Wallet in this package are local stand-ins. The
// authoritative spent set lives with whatever ledger the pool submits to.
package zerocash
