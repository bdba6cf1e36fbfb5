package auth

import (
	"context"
	"errors"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type fakeAuthClient struct {
	plainCalls   int
	revokedCalls int
	err          error
}

func (f *fakeAuthClient) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	f.plainCalls++
	return &firebaseauth.Token{UID: "u1"}, f.err
}

func (f *fakeAuthClient) VerifyIDTokenAndCheckRevoked(context.Context, string) (*firebaseauth.Token, error) {
	f.revokedCalls++
	return &firebaseauth.Token{UID: "u1"}, f.err
}

func TestFirebaseVerifierRevocationSwitch(t *testing.T) {
	client := &fakeAuthClient{}
	verifier := &FirebaseVerifier{client: client}
	if _, err := verifier.VerifyIDToken(context.Background(), "t"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	verifier.checkRevoked = true
	if _, err := verifier.VerifyIDToken(context.Background(), "t"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if client.plainCalls != 1 || client.revokedCalls != 1 {
		t.Fatalf("expected one call of each kind, got plain=%d revoked=%d", client.plainCalls, client.revokedCalls)
	}
}

func TestFirebaseVerifierPassesThroughUnknownErrors(t *testing.T) {
	boom := errors.New("dial tcp: timeout")
	verifier := &FirebaseVerifier{client: &fakeAuthClient{err: boom}}
	token, err := verifier.VerifyIDToken(context.Background(), "t")
	if token != nil || !errors.Is(err, boom) {
		t.Fatalf("expected unclassified error, got %v %v", token, err)
	}
	for _, sentinel := range []error{ErrTokenExpired, ErrTokenRevoked, ErrAccountDisabled, ErrTokenInvalid} {
		if errors.Is(err, sentinel) {
			t.Fatalf("did not expect %v", sentinel)
		}
	}
}

func TestFirebaseVerifierNotInitialised(t *testing.T) {
	var verifier *FirebaseVerifier
	if _, err := verifier.VerifyIDToken(context.Background(), "t"); err == nil {
		t.Fatalf("expected error from nil verifier")
	}
}
