package auth

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload is what the caller supplies when minting.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	MerchantID *uuid.UUID
	JTI        string
}

// AccessTokenClaims is the token body. Merchant staff tokens are bound to the
// merchant they operate for.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	Role       enums.ActorRole `json:"role"`
	MerchantID *uuid.UUID      `json:"merchant_id,omitempty"`
	jwt.RegisteredClaims
}

var errMissingSubject = errors.New("token subject missing")

// Validate runs after the registered claims checks in jwt.Parse and during
// minting, so both directions enforce the same shape.
func (c AccessTokenClaims) Validate() error {
	if c.UserID == uuid.Nil {
		return errMissingSubject
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("invalid actor role %q", c.Role)
	}
	if c.Role == enums.ActorRoleMerchant && (c.MerchantID == nil || *c.MerchantID == uuid.Nil) {
		return errors.New("merchant tokens require a merchant id")
	}
	return nil
}
