package factory

import (
	"fmt"
	"net/http"

	"github.com/mikey/workauth-assistant/internal/adapters/notify"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

// NotifierFactory creates the notification channel selected by notify.type
type NotifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNotifierFactory creates a new notifier factory
func NewNotifierFactory(cfg *config.Config, logger *zap.Logger) *NotifierFactory {
	return &NotifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateNotifier creates a notifier. The webhook channel uses httpClient.
// A nil notifier means notifications are turned off.
func (f *NotifierFactory) CreateNotifier(httpClient *http.Client) (core.Notifier, error) {
	notifyCfg := f.cfg.GetNotify()

	switch notifyCfg.Type {
	case "", "webhook":
		return notify.NewWebhookNotifier(httpClient, notifyCfg, f.logger), nil
	case "smtp":
		n, err := notify.NewSMTPNotifier(notifyCfg, f.logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "none":
		f.logger.Info("Notifications disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported notification type: %s", notifyCfg.Type)
	}
}
