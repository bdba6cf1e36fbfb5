package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/forkcast/api/internal/platform/config"
)

// firebaseAuthClient is the part of the Admin SDK auth client used for ID token checks.
type firebaseAuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier checks Firebase ID tokens and folds Admin SDK failures into ErrTokenExpired,
// ErrTokenRevoked, ErrAccountDisabled and ErrTokenInvalid.
type FirebaseVerifier struct {
	client       firebaseAuthClient
	checkRevoked bool
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. With cfg.CheckRevoked set,
// every verification also asks Firebase whether the user's sessions were revoked, which costs a
// network round trip per request.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client, checkRevoked: cfg.CheckRevoked}, nil
}

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	verify := v.client.VerifyIDToken
	if v.checkRevoked {
		verify = v.client.VerifyIDTokenAndCheckRevoked
	}
	token, err := verify(ctx, idToken)
	if err != nil {
		return nil, classifyFirebaseError(err)
	}
	return token, nil
}

func classifyFirebaseError(err error) error {
	var sentinel error
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		sentinel = ErrTokenExpired
	case firebaseauth.IsIDTokenRevoked(err):
		sentinel = ErrTokenRevoked
	case firebaseauth.IsUserDisabled(err):
		sentinel = ErrAccountDisabled
	case firebaseauth.IsIDTokenInvalid(err):
		sentinel = ErrTokenInvalid
	default:
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
