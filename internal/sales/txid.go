package sales

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

const transactionPrefix = "#SE"

var (
	transactionSpace   = big.NewInt(100_000_000)
	transactionPattern = regexp.MustCompile(`^#SE[0-9]{8}$`)
)

// NewTransactionID returns "#SE" followed by 8 random digits. Uniqueness is
// enforced by the sales table; a collision fails the insert and is retried.
func NewTransactionID() (string, error) {
	n, err := rand.Int(rand.Reader, transactionSpace)
	if err != nil {
		return "", fmt.Errorf("generate transaction id: %w", err)
	}
	return fmt.Sprintf("%s%08d", transactionPrefix, n.Int64()), nil
}

// ValidTransactionID reports whether s has the transaction id format.
func ValidTransactionID(s string) bool {
	return transactionPattern.MatchString(s)
}
