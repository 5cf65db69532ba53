package approval

import (
	"encoding/json"
	"fmt"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/signing"
)

// Signer computes and checks the sig field of action values.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

func (s *Signer) digest(v ActionValue) (string, error) {
	v.Sig = ""
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode action value for signing: %w", err)
	}
	return signing.MAC(s.key, data), nil
}

// Sign returns v with Sig set.
func (s *Signer) Sign(v ActionValue) (ActionValue, error) {
	sig, err := s.digest(v)
	if err != nil {
		return ActionValue{}, err
	}
	v.Sig = sig
	return v, nil
}

// Verify reports whether v.Sig matches the other fields.
func (s *Signer) Verify(v ActionValue) bool {
	if v.Sig == "" || len(s.key) == 0 {
		return false
	}
	want, err := s.digest(v)
	if err != nil {
		return false
	}
	return signing.EqualMAC(v.Sig, want)
}
