// Package push sends new-trip alerts to driver devices over FCM.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"

	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

// ErrNoDeviceToken is returned when a driver has no registered device.
var ErrNoDeviceToken = errors.New("no device token for driver")

// Sender is the subset of *messaging.Client used here.
type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// TokenSource resolves a user's FCM registration token.
type TokenSource interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// FCMPusher delivers a data message for every trip presented to a driver.
type FCMPusher struct {
	sender Sender
	tokens TokenSource
	log    *slog.Logger
}

func NewFCMPusher(sender Sender, tokens TokenSource, log *slog.Logger) *FCMPusher {
	if log == nil {
		log = slog.Default()
	}
	return &FCMPusher{sender: sender, tokens: tokens, log: log}
}

func (p *FCMPusher) NotifyNewTrip(ctx context.Context, driverID types.ID, t trip.Trip) error {
	token, err := p.tokens.DeviceToken(ctx, driverID)
	if err != nil {
		return err
	}
	if token == "" {
		return fmt.Errorf("%w %s", ErrNoDeviceToken, string(driverID))
	}

	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":            "new_trip",
			"passenger_id":    string(t.PassengerID),
			"pickup_lat":      formatCoord(t.Pickup.Lat),
			"pickup_lng":      formatCoord(t.Pickup.Lng),
			"destination_lat": formatCoord(t.Destination.Lat),
			"destination_lng": formatCoord(t.Destination.Lng),
			"state":           strconv.Itoa(int(t.State)),
		},
		Notification: &messaging.Notification{
			Title: "New ride request",
			Body:  "A passenger nearby is looking for a ride",
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	messageID, err := p.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to driver %s: %w", string(driverID), err)
	}
	p.log.Info("fcm sent", "driver_id", string(driverID), "passenger_id", string(t.PassengerID), "message_id", messageID)
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// RTDBTokens reads tokens from /users/{uid}/deviceToken.
type RTDBTokens struct {
	dbClient *db.Client
}

func NewRTDBTokens(dbClient *db.Client) *RTDBTokens {
	return &RTDBTokens{dbClient: dbClient}
}

func (r *RTDBTokens) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	var token string
	if err := r.dbClient.NewRef("users").Child(string(userID)).Child("deviceToken").Get(ctx, &token); err != nil {
		return "", fmt.Errorf("reading device token for %s: %w", string(userID), err)
	}
	return token, nil
}
