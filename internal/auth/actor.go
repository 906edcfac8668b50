package auth

// Actor is the identity on whose behalf the engine runs. The zero value is
// the anonymous actor.
type Actor struct {
	UserID string
}

// Anonymous is the signed-out actor
var Anonymous = Actor{}

// IsAnonymous reports whether the actor is signed out
func (a Actor) IsAnonymous() bool {
	return a.UserID == ""
}

// Authenticated returns an actor for userID
func Authenticated(userID string) Actor {
	return Actor{UserID: userID}
}
