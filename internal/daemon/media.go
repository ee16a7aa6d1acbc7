package daemon

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/call"
)

// mediaLogger is the default MediaTransport: it records join/leave activity
// without streaming anything. The vendor A/V SDK plugs in behind the same
// interface on platforms that bundle it.
type mediaLogger struct {
	logger *zap.Logger
}

func newMediaLogger(logger *zap.Logger) call.MediaTransport {
	return &mediaLogger{logger: logger}
}

func (m *mediaLogger) Join(_ context.Context, creds call.JoinCredentials, kind call.MediaKind) error {
	m.logger.Info("media join", zap.String("channel", creds.Channel), zap.String("kind", string(kind)))
	return nil
}

func (m *mediaLogger) Leave(context.Context) error {
	m.logger.Info("media leave")
	return nil
}
