package token

import "errors"

var (
	ErrInvalidKeysetId = errors.New("token: invalid keyset id")
	ErrNoProofs        = errors.New("token: no proofs provided")
)
