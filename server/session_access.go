package server

func (s *session) handleUSER(user string) outcome {
	if user == "" {
		return replyf(501, "Syntax error in parameters or arguments.")
	}
	// A new USER restarts the login, even for a logged-in session.
	s.user = user
	s.identity = nil
	return replyf(331, "User name okay, need password.")
}

func (s *session) handlePASS(pass string) outcome {
	if s.identity != nil {
		return replyf(230, "Already logged in.")
	}
	if s.user == "" {
		return replyf(503, "Login with USER first.")
	}
	return outcome{login: &loginRequest{user: s.user, pass: pass}}
}

func (s *session) handleQUIT(_ string) outcome {
	return outcome{reply: reply{code: 221, text: "Service closing control connection."}, quit: true}
}
