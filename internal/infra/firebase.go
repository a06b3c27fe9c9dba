// README: Firebase Admin SDK initialisation: RTDB, FCM and token verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw Firebase ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// Firebase bundles the Admin SDK clients the service uses.
type Firebase struct {
	App       *firebase.App
	DB        *db.Client // nil when no database URL is configured
	Messaging *messaging.Client
	Verifier  TokenVerifier
}

// NewFirebase initialises the Admin SDK. If credentialsFile is empty,
// application-default credentials are used.
func NewFirebase(ctx context.Context, projectID, credentialsFile, databaseURL string) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	fb := &Firebase{App: app}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	fb.Verifier = &firebaseVerifier{client: authClient}

	if fb.Messaging, err = app.Messaging(ctx); err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	if databaseURL != "" {
		if fb.DB, err = app.Database(ctx); err != nil {
			return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
		}
	}
	return fb, nil
}

// firebaseVerifier is the production implementation backed by the Firebase Admin SDK.
type firebaseVerifier struct {
	client *auth.Client
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}
