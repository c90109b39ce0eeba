package token

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const versionPrefix = "ecashB"

var ErrInvalidToken = errors.New("token: malformed token string")

// Token is the transport envelope for a set of proofs redeemable at a
// single mint: a CBOR structure, base64url-encoded with a leading
// version prefix, grounded on the teacher's TokenV4 wire format.
type Token struct {
	TokenProofs []tokenProofs `cbor:"t"`
	Memo        string        `cbor:"d,omitempty"`
	MintURL     string        `cbor:"m"`
	Unit        string        `cbor:"u"`
}

type tokenProofs struct {
	Id     []byte      `cbor:"i"`
	Proofs []wireProof `cbor:"p"`
}

func (tp *tokenProofs) MarshalJSON() ([]byte, error) {
	alias := struct {
		Id     string      `json:"i"`
		Proofs []wireProof `json:"p"`
	}{Id: hex.EncodeToString(tp.Id), Proofs: tp.Proofs}
	return json.Marshal(alias)
}

type wireProof struct {
	Amount uint64    `cbor:"a"`
	Secret string    `cbor:"s"`
	C      []byte    `cbor:"c"`
	DLEQ   *wireDLEQ `cbor:"d,omitempty"`
}

type wireDLEQ struct {
	E []byte `cbor:"e"`
	S []byte `cbor:"s"`
	R []byte `cbor:"r"`
}

// NewToken groups proofs into a Token scoped to the given mint and unit.
func NewToken(proofs Proofs, mintURL string, unit Unit, includeDLEQ bool) (Token, error) {
	if unit == "" {
		return Token{}, ErrInvalidUnit
	}

	byKeyset := make(map[string][]wireProof)
	order := make([]string, 0)
	for _, p := range proofs {
		C, err := hex.DecodeString(p.C)
		if err != nil {
			return Token{}, fmt.Errorf("invalid C: %w", err)
		}

		wp := wireProof{Amount: p.Amount, Secret: p.Secret, C: C}
		if includeDLEQ && p.DLEQ != nil {
			e, err := hex.DecodeString(p.DLEQ.E)
			if err != nil {
				return Token{}, fmt.Errorf("invalid DLEQ e: %w", err)
			}
			s, err := hex.DecodeString(p.DLEQ.S)
			if err != nil {
				return Token{}, fmt.Errorf("invalid DLEQ s: %w", err)
			}
			r, err := hex.DecodeString(p.DLEQ.R)
			if err != nil {
				return Token{}, fmt.Errorf("invalid DLEQ r: %w", err)
			}
			wp.DLEQ = &wireDLEQ{E: e, S: s, R: r}
		}

		if _, ok := byKeyset[p.Id]; !ok {
			order = append(order, p.Id)
		}
		byKeyset[p.Id] = append(byKeyset[p.Id], wp)
	}

	groups := make([]tokenProofs, 0, len(order))
	for _, id := range order {
		idBytes, err := hex.DecodeString(id)
		if err != nil {
			return Token{}, fmt.Errorf("invalid keyset id: %w", err)
		}
		groups = append(groups, tokenProofs{Id: idBytes, Proofs: byKeyset[id]})
	}

	return Token{TokenProofs: groups, MintURL: mintURL, Unit: string(unit)}, nil
}

// Proofs flattens a Token back into its constituent Proofs.
func (t Token) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, group := range t.TokenProofs {
		keysetId := hex.EncodeToString(group.Id)
		for _, wp := range group.Proofs {
			proof := Proof{
				Amount: wp.Amount,
				Id:     keysetId,
				Secret: wp.Secret,
				C:      hex.EncodeToString(wp.C),
			}
			if wp.DLEQ != nil {
				proof.DLEQ = &DLEQProof{
					E: hex.EncodeToString(wp.DLEQ.E),
					S: hex.EncodeToString(wp.DLEQ.S),
					R: hex.EncodeToString(wp.DLEQ.R),
				}
			}
			proofs = append(proofs, proof)
		}
	}
	return proofs
}

func (t Token) Amount() uint64 {
	return t.Proofs().Amount()
}

// Serialize encodes the token as CBOR and returns the version-prefixed,
// base64url wire string a wallet hands to a mint or another wallet.
func (t Token) Serialize() (string, error) {
	data, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return versionPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a wire token string produced by Serialize.
func Decode(tokenStr string) (*Token, error) {
	if len(tokenStr) < len(versionPrefix) || tokenStr[:len(versionPrefix)] != versionPrefix {
		return nil, ErrInvalidToken
	}

	encoded := tokenStr[len(versionPrefix):]
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	var t Token
	if err := cbor.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &t, nil
}
