package usecase

import (
	"time"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/logger"
)

// SessionView is the client-facing description of a session. It never carries
// the fingerprint hash or raw user agent.
type SessionView struct {
	SessionID     string
	CreatedAt     time.Time
	LastSeenAt    time.Time
	DeviceSummary string
	Device        domain.DeviceMetadata
	IPAddress     string
	Current       bool
}

func newSessionView(session domain.Session) SessionView {
	return SessionView{
		SessionID:     session.ID,
		CreatedAt:     session.CreatedAt,
		LastSeenAt:    session.LastSeenAt,
		DeviceSummary: session.DeviceMetadata.Summary(),
		Device:        session.DeviceMetadata,
	}
}

func newSessionViews(sessions []domain.Session) []SessionView {
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, newSessionView(session))
	}
	return views
}

// detailedSessionView adds the masked client IP for the owner's own listing.
func detailedSessionView(session domain.Session, encryptor port.FieldEncryptor) SessionView {
	view := newSessionView(session)
	if encryptor == nil || session.IPEnc == "" {
		return view
	}
	if ip, err := encryptor.Decrypt(session.IPEnc); err == nil {
		view.IPAddress = logger.MaskIP(ip)
	}
	return view
}
