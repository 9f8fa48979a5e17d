package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

var hexAddressPattern = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress checks for a 20-byte hex address, with or without 0x
func IsEvmAddress(address string) bool {
	return hexAddressPattern.MatchString(strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X"))
}

// ParseAddress normalizes a client-supplied address. The zero address is
// rejected.
func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !IsEvmAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}

// NormalizeAddress returns the checksummed form, or "" when invalid.
func NormalizeAddress(address string) string {
	addr, err := ParseAddress(address)
	if err != nil {
		return ""
	}
	return addr.Hex()
}
