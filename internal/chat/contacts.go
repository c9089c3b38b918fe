package chat

import (
	"context"
	"net/http"
	"time"
)

// Contact is a conversation partner. Only ID and Name are required by the
// session layer; LastMessage is preview decoration for list views.
type Contact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	LastMessage string `json:"last_message,omitempty"`
}

// ContactProvider supplies the set of known conversation partners. The
// backing service is a collaborator; this package only fixes the contract.
type ContactProvider interface {
	ListContacts(ctx context.Context, selfID string) ([]Contact, error)
}

// ContactClient is the REST implementation of ContactProvider.
type ContactClient struct {
	api
}

func NewContactClient(baseURL, token string) *ContactClient {
	return &ContactClient{api: api{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}}
}

func (c *ContactClient) ListContacts(ctx context.Context, selfID string) ([]Contact, error) {
	var contacts []Contact
	if err := c.do(ctx, http.MethodGet, "/api/contacts", nil, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}
