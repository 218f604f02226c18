// Package v1 is a reference VenueAdapter for a crypto-settled CLOB exchange
// whose orders settle on-chain and must be signed as EIP-712 typed data
// before submission.
package v1

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/arbtrader/arbtrader/internal/types"
)

// Chain and contract identifiers for the settlement layer this adapter
// targets. Concrete values are placeholders; a real deployment supplies
// them via config.
const (
	chainID      = 137
	exchangeAddr = "0x0000000000000000000000000000000000000001"
	zeroAddress  = "0x0000000000000000000000000000000000000000"
)

const (
	sideBuy  uint8 = 0
	sideSell uint8 = 1
)

// ctfOrder is the on-chain order struct the exchange contract expects.
type ctfOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

type signedOrder struct {
	order     *ctfOrder
	signature string
}

// signer signs orders with the trader's EOA key via EIP-712.
type signer struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	exchangeAddr  common.Address
}

func newSigner(privateKey *ecdsa.PrivateKey, signerAddr, funderAddr common.Address) *signer {
	return &signer{
		privateKey:    privateKey,
		signerAddress: signerAddr,
		funderAddress: funderAddr,
		exchangeAddr:  common.HexToAddress(exchangeAddr),
	}
}

func tokenAmount(amount decimal.Decimal) *big.Int {
	scaled := amount.Shift(6).Truncate(0)
	v, _ := new(big.Int).SetString(scaled.String(), 10)
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func (s *signer) createOrder(tokenID string, side types.OrderSide, price, size decimal.Decimal) (*ctfOrder, error) {
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	var makerAmount, takerAmount *big.Int
	notional := size.Mul(price)
	if side == types.OrderBuy {
		makerAmount = tokenAmount(notional)
		takerAmount = tokenAmount(size)
	} else {
		makerAmount = tokenAmount(size)
		takerAmount = tokenAmount(notional)
	}

	maker := s.funderAddress
	if maker == (common.Address{}) {
		maker = s.signerAddress
	}

	sideVal := sideBuy
	if side == types.OrderSell {
		sideVal = sideSell
	}

	return &ctfOrder{
		Salt:          generateSalt(),
		Maker:         maker,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(zeroAddress),
		TokenID:       tokenIDInt,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          sideVal,
		SignatureType: 0,
	}, nil
}

func (s *signer) sign(order *ctfOrder) (*signedOrder, error) {
	typedData := buildTypedData(order, s.exchangeAddr)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &signedOrder{order: order, signature: fmt.Sprintf("0x%x", sig)}, nil
}

func (s *signer) createAndSign(tokenID string, side types.OrderSide, price, size decimal.Decimal) (*signedOrder, error) {
	order, err := s.createOrder(tokenID, side, price, size)
	if err != nil {
		return nil, err
	}
	return s.sign(order)
}

func buildTypedData(order *ctfOrder, exchangeAddr common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Arbtrader V1 Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

func generateSalt() *big.Int {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	buf := make([]byte, 32)
	for i := range buf {
		buf[i] = byte(src.Intn(256))
	}
	return new(big.Int).SetBytes(buf)
}
