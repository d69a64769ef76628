package token

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"github.com/messcheck/messcheck/internal/models"
)

// EncodeQR renders the token's serialized JSON form as a terminal QR code.
// Staff scan this code; the payload they decode is the same JSON the
// verification service consumes.
func EncodeQR(w io.Writer, tok models.AttendanceToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal attendance token: %w", err)
	}
	qrterminal.GenerateHalfBlock(string(data), qrterminal.L, w)
	return nil
}
