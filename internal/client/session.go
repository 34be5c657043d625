package client

import "sovereign-journalist/internal/model"

// Session is everything a source holds between verify and publish. None of
// it is written to disk.
type Session struct {
	Credential *model.VerifiedCredential
	Token      string
	Transcript []model.ChatMessage
	Draft      *model.IPFSArticle
}

func (s *Session) Authorized() bool { return s.Token != "" }

// Purge erases the credential, token, transcript and draft. It is the single
// erase path used on publish, abandon and authorization failure.
func (s *Session) Purge() {
	if s.Credential != nil {
		clear(s.Credential.Parameters)
		*s.Credential = model.VerifiedCredential{}
	}
	clear(s.Transcript)
	*s = Session{}
}
