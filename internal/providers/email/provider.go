package email

import (
	"context"

	"github.com/smallbiznis/creditkit/internal/audit/masking"
	"go.uber.org/zap"
)

type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// LogProvider stands in for SMTP in development. It logs the subject and a
// masked recipient and drops the message.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("email.log")}
}

func (p *LogProvider) Send(ctx context.Context, msg Message) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, masking.MaskEmail(addr))
	}
	p.log.Info("email not sent, smtp disabled",
		zap.Strings("to", to),
		zap.String("subject", msg.Subject),
	)
	return nil
}
