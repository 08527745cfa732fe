package backend

import "nostrtalk/go-backend/pkg/models"

// Command is a collaborator-issued intent. Each command maps to exactly one
// store mutation or session-manager call, answered by one success event or
// one Error event.
type Command interface {
	command()
}

type FetchContacts struct{}

type AddContact struct {
	Contact models.Contact
}

type UpdateContact struct {
	Contact models.Contact
}

type DeleteContact struct {
	PubKey string
}

type ImportContacts struct {
	Contacts []models.Contact
}

type SendDirectMessage struct {
	PeerPubKey string
	Plaintext  string
}

type MarkChatSeen struct {
	PeerPubKey string
}

type FetchChat struct {
	PeerPubKey string
}

type AddRelay struct {
	URL string
}

type DeleteRelay struct {
	URL string
}

type ToggleRelayRead struct {
	URL  string
	Read bool
}

type ToggleRelayWrite struct {
	URL   string
	Write bool
}

type ConnectRelays struct{}

type FetchRelayAcks struct {
	EventID int64
}

// SendContactList publishes the local follow list as a contact-list event.
type SendContactList struct{}

func (FetchContacts) command()     {}
func (AddContact) command()        {}
func (UpdateContact) command()     {}
func (DeleteContact) command()     {}
func (ImportContacts) command()    {}
func (SendDirectMessage) command() {}
func (MarkChatSeen) command()      {}
func (FetchChat) command()         {}
func (AddRelay) command()          {}
func (DeleteRelay) command()       {}
func (ToggleRelayRead) command()   {}
func (ToggleRelayWrite) command()  {}
func (ConnectRelays) command()     {}
func (FetchRelayAcks) command()    {}
func (SendContactList) command()   {}
