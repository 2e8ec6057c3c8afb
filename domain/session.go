package domain

type SessionID string

// Session is an authenticated principal's logical presence. It survives
// transport reconnects: the live connection handle lives in the connection
// registry, not here.
type Session struct {
	ID     SessionID
	UserID UserID
}

// SessionFor maps a user onto its session identity. The service enforces a
// single live connection per session, so a new login for the same user
// supersedes the previous connection.
func SessionFor(userID UserID) Session {
	return Session{ID: SessionID(userID), UserID: userID}
}
