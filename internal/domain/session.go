package domain

import "time"

// DeviceContext describes where a login came from. It is resolved by the
// caller before a session is opened.
type DeviceContext struct {
	Device    string
	Browser   string
	OS        string
	IPAddress string
	Location  string
}

// Session is one device/browser login. The refresh token itself is never
// stored, only its SHA-256 hex digest.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	Device           string
	Browser          string
	OS               string
	IPAddress        string
	Location         string
	LastActivity     time.Time
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionView is the public projection of a Session for the session list.
type SessionView struct {
	ID           string    `json:"id"`
	Device       string    `json:"device"`
	Browser      string    `json:"browser"`
	OS           string    `json:"os"`
	IPAddress    string    `json:"ipAddress"`
	Location     string    `json:"location"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// View projects s, marking it current when its id matches currentID.
func (s *Session) View(currentID string) SessionView {
	return SessionView{
		ID:           s.ID,
		Device:       s.Device,
		Browser:      s.Browser,
		OS:           s.OS,
		IPAddress:    s.IPAddress,
		Location:     s.Location,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
		IsCurrent:    currentID != "" && s.ID == currentID,
	}
}
