package loan

import (
	"bytes"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"pawnvault/crypto"
)

// personalMessagePrefix wraps signing digests in the standard off-chain
// message-signing convention so wallets can produce the signatures directly.
var personalMessagePrefix = []byte("\x19Ethereum Signed Message:\n32")

// Verifier validates signed authorizations and enforces single use of their
// nonces. The consumed-nonce set is global: a nonce burnt by one operation is
// rejected by every other operation forever.
type Verifier struct {
	state State
}

// NewVerifier constructs a verifier backed by the given state.
func NewVerifier(state State) *Verifier {
	return &Verifier{state: state}
}

func nonceKey(nonce *big.Int) []byte {
	key := make([]byte, 32)
	if nonce != nil {
		nonce.FillBytes(key)
	}
	return key
}

// ConsumeNonce checks the nonce against the consumed set and records it as
// one step. The caller invokes this before signature verification, so a
// failed authorization still burns the nonce. That ordering is deliberate:
// once presented, a nonce can never be retried.
func (v *Verifier) ConsumeNonce(nonce *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if nonce == nil || nonce.Sign() < 0 || nonce.BitLen() > 256 {
		return fmt.Errorf("loan: nonce must be a non-negative 32-byte integer")
	}
	key := nonceKey(nonce)
	used, err := v.state.NonceConsumed(key)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceReused
	}
	return v.state.NonceConsume(key)
}

// VerifyLenderAuthorization recomputes the digest binding the engine's module
// address, the counterparties, the collateral identity, the loan terms and
// the nonce, and requires the recovered signer to equal the claimed lender.
func (v *Verifier) VerifyLenderAuthorization(module crypto.Address, order LoanOrder, borrower crypto.Address, sig Signature) error {
	digest := lenderAuthDigest(module, order.Lender, borrower, order.Collateral.ItemID, order.Collateral.Asset, order.Amount, order.Collateral.Quantity, order.Nonce)
	signer, err := recoverSigner(digest, sig)
	if err != nil {
		return ErrAuthorizationFailed
	}
	if !bytes.Equal(signer.Bytes(), order.Lender.Bytes()) {
		return ErrAuthorizationFailed
	}
	return nil
}

// VerifyAdminAuthorization recomputes the digest binding the engine's module
// address, the caller, the loan identifier and the nonce, and requires the
// recovered signer to equal the administrator.
func (v *Verifier) VerifyAdminAuthorization(module, admin, caller crypto.Address, loanID uint64, nonce *big.Int, sig Signature) error {
	digest := adminAuthDigest(module, caller, loanID, nonce)
	signer, err := recoverSigner(digest, sig)
	if err != nil {
		return ErrAuthorizationFailed
	}
	if !bytes.Equal(signer.Bytes(), admin.Bytes()) {
		return ErrAuthorizationFailed
	}
	return nil
}

func lenderAuthDigest(module, lender, borrower crypto.Address, itemID *big.Int, asset crypto.Address, amount, quantity, nonce *big.Int) []byte {
	return ethcrypto.Keccak256(
		module.Bytes(),
		lender.Bytes(),
		borrower.Bytes(),
		pad32(itemID),
		asset.Bytes(),
		pad32(amount),
		pad32(quantity),
		pad32(nonce),
	)
}

func adminAuthDigest(module, caller crypto.Address, loanID uint64, nonce *big.Int) []byte {
	return ethcrypto.Keccak256(
		module.Bytes(),
		caller.Bytes(),
		pad32(new(big.Int).SetUint64(loanID)),
		pad32(nonce),
	)
}

// SignDigest wraps a parameter digest in the personal-message prefix and
// signs it with the supplied key. Exposed for counterparties and tests to
// produce valid authorizations.
func SignDigest(digest []byte, key *crypto.PrivateKey) (Signature, error) {
	prefixed := ethcrypto.Keccak256(personalMessagePrefix, digest)
	raw, err := ethcrypto.Sign(prefixed, key.PrivateKey)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		R: new(big.Int).SetBytes(raw[:32]),
		S: new(big.Int).SetBytes(raw[32:64]),
		V: new(big.Int).SetBytes([]byte{raw[64] + 27}),
	}, nil
}

// LenderOrderDigest exposes the lender-mode digest so signers can construct
// authorizations without the engine.
func LenderOrderDigest(module crypto.Address, order LoanOrder, borrower crypto.Address) []byte {
	return lenderAuthDigest(module, order.Lender, borrower, order.Collateral.ItemID, order.Collateral.Asset, order.Amount, order.Collateral.Quantity, order.Nonce)
}

// AdminActionDigest exposes the admin-mode digest for external signers.
func AdminActionDigest(module, caller crypto.Address, loanID uint64, nonce *big.Int) []byte {
	return adminAuthDigest(module, caller, loanID, nonce)
}

func recoverSigner(digest []byte, sig Signature) (crypto.Address, error) {
	raw, err := sig.Bytes()
	if err != nil {
		return crypto.Address{}, err
	}
	prefixed := ethcrypto.Keccak256(personalMessagePrefix, digest)
	pub, err := ethcrypto.SigToPub(prefixed, raw)
	if err != nil {
		return crypto.Address{}, err
	}
	return crypto.NewAddress(crypto.PawnPrefix, ethcrypto.PubkeyToAddress(*pub).Bytes()), nil
}

func pad32(v *big.Int) []byte {
	buf := make([]byte, 32)
	if v != nil {
		v.FillBytes(buf)
	}
	return buf
}
