package service

import (
	"context"
	"fmt"

	"github.com/quocanhngo/botdesk/internal/model"
	"google.golang.org/api/idtoken"
)

// IDTokenVerifier validates Google ID tokens against our OAuth client id
type IDTokenVerifier struct {
	clientID string
}

func NewIDTokenVerifier(clientID string) *IDTokenVerifier {
	return &IDTokenVerifier{clientID: clientID}
}

// Verify checks the token signature and audience, then extracts the profile claims
func (v *IDTokenVerifier) Verify(ctx context.Context, token string) (*model.GoogleUserInfo, error) {
	payload, err := idtoken.Validate(ctx, token, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGoogleToken, err)
	}

	claims := payload.Claims
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return nil, fmt.Errorf("%w: email not found in token", ErrGoogleToken)
	}

	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)
	verified, _ := claims["email_verified"].(bool)

	return &model.GoogleUserInfo{
		GoogleID: payload.Subject,
		Email:    email,
		Name:     name,
		Picture:  picture,
		Verified: verified,
	}, nil
}
