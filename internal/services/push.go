package services

import (
	"context"
	"fmt"

	"amora-calls-backend/internal/config"
	"amora-calls-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushService delivers incoming-call alerts through APNs when the
// receiver has no live realtime connection
type PushService struct {
	client *apns2.Client
	topic  string
}

// NewPushService creates a new push service from APNs credentials
func NewPushService(cfg config.APNSConfig) (*PushService, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushService{
		client: client,
		topic:  cfg.Topic,
	}, nil
}

// SendIncomingCall pushes an incoming-call alert to a device
func (s *PushService) SendIncomingCall(ctx context.Context, deviceToken string, session *models.CallSession) error {
	p := payload.NewPayload().
		AlertTitle("Incoming call").
		AlertBody(fmt.Sprintf("Incoming %s call", session.CallType)).
		Sound("default").
		Custom("call_id", session.ID).
		Custom("caller_id", session.CallerID).
		Custom("call_type", string(session.CallType))

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Priority:    apns2.PriorityHigh,
		Payload:     p,
	}

	res, err := s.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	log.Debug().
		Str("call_id", session.ID).
		Str("apns_id", res.ApnsID).
		Msg("Incoming-call push sent")
	return nil
}
