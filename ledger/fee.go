package ledger

// Fee computes the required input fee for a swap or melt spending
// inputCount proofs from a keyset whose input_fee_ppk is feePpk:
// ceil(inputCount * feePpk / 1000).
func Fee(inputCount int, feePpk uint) uint64 {
	if inputCount <= 0 || feePpk == 0 {
		return 0
	}

	numerator := uint64(inputCount) * uint64(feePpk)
	return (numerator + 999) / 1000
}
