// README: Push notification delivery: FCM with a log-only fallback.
package notify

import (
	"context"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/jackc/pgx/v5/pgxpool"

	"yoonu/internal/types"
)

// Notifier sends a push message to a single user. Delivery is best effort:
// implementations report errors but callers never block a state change on one.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) error
}

// FCMNotifier resolves a user's registered device tokens from Postgres and
// relays the message through Firebase Cloud Messaging.
type FCMNotifier struct {
	client *messaging.Client
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewFCMNotifier(client *messaging.Client, db *pgxpool.Pool, logger *slog.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, db: db, logger: logger}
}

func (n *FCMNotifier) Notify(ctx context.Context, userID types.ID, title, body string, data map[string]string) error {
	rows, err := n.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, string(userID))
	if err != nil {
		return err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	for _, token := range tokens {
		msg := &messaging.Message{
			Token:        token,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
		}
		if _, err := n.client.Send(ctx, msg); err != nil {
			n.logger.Warn("push send failed",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return nil
}

// LogNotifier is used when no Firebase project is configured. It makes
// notification flow visible in logs so local development still shows who
// would have been pinged.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, userID types.ID, title, body string, data map[string]string) error {
	n.logger.Info("notification",
		"user_id", userID,
		"title", title,
		"body", body,
		"data", data,
	)
	return nil
}
