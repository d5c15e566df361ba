package transfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github/chapool/go-custody/internal/wallet/balance"
)

const abiWordLength = 32

// transfer(address,uint256)
var transferMethodID = common.Hex2Bytes("a9059cbb")

// TransferData encodes an ERC-20 transfer(to, amount) call.
func TransferData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, len(transferMethodID)+2*abiWordLength)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), abiWordLength)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), abiWordLength)...)
	return data
}

// payload is the on-chain call moving units of an asset to a recipient.
type payload struct {
	to    common.Address
	value *big.Int
	data  []byte
}

func (c Config) payload(recipient common.Address, units *big.Int, asset balance.Asset) payload {
	if c.IsNative(asset) {
		return payload{to: recipient, value: units}
	}

	return payload{
		to:    asset.Contract,
		value: new(big.Int),
		data:  TransferData(recipient, units),
	}
}

func (p payload) callMsg(from common.Address) ethereum.CallMsg {
	to := p.to
	return ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: p.value,
		Data:  p.data,
	}
}
