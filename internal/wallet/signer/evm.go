package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var errMissingFees = errors.New("either gas price or EIP-1559 fee caps are required")

// newTransaction builds the unsigned transaction and the matching signer.
func newTransaction(req *Request, chainID *big.Int) (*types.Transaction, types.Signer, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	if req.GasPrice != nil {
		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    req.Nonce,
			GasPrice: req.GasPrice,
			Gas:      req.GasLimit,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		})
		return tx, types.NewEIP155Signer(chainID), nil
	}

	if req.MaxFeePerGas == nil || req.MaxPriorityFeePerGas == nil {
		return nil, nil, errMissingFees
	}

	//nolint:varnamelen
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     req.Nonce,
		GasTipCap: req.MaxPriorityFeePerGas,
		GasFeeCap: req.MaxFeePerGas,
		Gas:       req.GasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	return tx, types.NewLondonSigner(chainID), nil
}

func signTransaction(req *Request, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, []byte, error) {
	tx, signer, err := newTransaction(req, chainID)
	if err != nil {
		return nil, nil, err
	}

	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to sign transaction")
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return signedTx, raw, nil
}

// signPersonalMessage produces an EIP-191 signature with V in {27, 28}.
func signPersonalMessage(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}
