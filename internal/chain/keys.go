package chain

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyDeriver derives agent signing keys from an extended private key.
type KeyDeriver struct {
	XPrv string
}

// Derive expects XPrv at path m/44'/60'/0'/0 and derives child index i.
func (d KeyDeriver) Derive(index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	if d.XPrv == "" {
		return nil, common.Address{}, errors.New("xprv is not configured")
	}

	key, err := hdkeychain.NewKeyFromString(d.XPrv)
	if err != nil {
		return nil, common.Address{}, err
	}
	if !key.IsPrivate() {
		return nil, common.Address{}, errors.New("extended key is public, signing needs an xprv")
	}
	child, err := key.Derive(index)
	if err != nil {
		return nil, common.Address{}, err
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, err
	}
	ecdsaKey, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, common.Address{}, err
	}
	return ecdsaKey, crypto.PubkeyToAddress(ecdsaKey.PublicKey), nil
}

// ParsePrivateKey reads a hex secp256k1 key, with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// LoadSigner prefers a raw key and falls back to HD derivation.
func LoadSigner(hexKey, xprv string, index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	if strings.TrimSpace(hexKey) != "" {
		return ParsePrivateKey(hexKey)
	}
	if xprv != "" {
		return KeyDeriver{XPrv: xprv}.Derive(index)
	}
	return nil, common.Address{}, errors.New("neither private key nor xprv configured")
}
