// Package notify carries user-facing lifecycle notifications out of the
// coordinator. Delivery is best effort and never blocks a state change.
package notify

import (
	"context"
	"log/slog"

	"consentry/internal/policy"
)

// Notification is a user-facing message. Buttons name the actions offered
// alongside it; most notifications have none.
type Notification struct {
	Title   string
	Message string
	Buttons []string
}

// Notifier delivers notifications to the user's client.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Detected builds the notification shown when a consent prompt is found.
func Detected(siteName string) Notification {
	return Notification{
		Title:   "Consent Detected",
		Message: "A consent request was detected on " + siteName + ". Review it to issue a consent token.",
	}
}

// Issued builds the notification shown when a consent token is minted.
func Issued(siteName string) Notification {
	return Notification{
		Title:   "Consent Token Issued",
		Message: "A consent token was issued for " + siteName + ". It activates when you sign in.",
	}
}

// Activated builds the notification shown when a pending consent token
// becomes active after sign-in.
func Activated(siteName string) Notification {
	return Notification{
		Title:   "Consent Activated",
		Message: "Your consent token for " + siteName + " is now active.",
	}
}

// Revoked builds the notification shown when a consent token is revoked.
func Revoked(siteName string) Notification {
	return Notification{
		Title:   "Consent Revoked",
		Message: "Your consent token for " + siteName + " has been revoked.",
	}
}

// Abandoned builds the notification shown when a pending consent times out.
func Abandoned(siteName string) Notification {
	return Notification{
		Title:   "Consent Abandoned",
		Message: "The consent token for " + siteName + " was not activated within " +
			policy.AbandonTimeout.String() + " and has been abandoned.",
	}
}

// ExpiringSoon builds the renewal reminder sent ahead of expiry.
func ExpiringSoon(siteName string) Notification {
	return Notification{
		Title:   "Consent Expiring Soon",
		Message: "Your consent token for " + siteName + " expires in 24 hours. Renew or revoke?",
		Buttons: []string{"Renew", "Revoke"},
	}
}

// LogNotifier writes notifications to the structured log. It stands in
// wherever no client push channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, notification Notification) error {
	n.Logger.Info("user notification",
		"title", notification.Title,
		"message", notification.Message,
		"buttons", notification.Buttons,
	)
	return nil
}

// Recorder captures notifications for tests.
type Recorder struct {
	Sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.Sent = append(r.Sent, n)
	return nil
}
