package domain

import "context"

// ClientDirectory lists the clients registered under a company.
type ClientDirectory interface {
	LookupClients(ctx context.Context, company string) ([]string, error)
}

// AnswerService answers a question in the context of a company and client.
type AnswerService interface {
	Ask(ctx context.Context, req AnswerRequest) (*AnswerResponse, error)
}

type AnswerRequest struct {
	Question    string `json:"question"`
	CompanyName string `json:"company_name"`
	ClientName  string `json:"client_name"`
}

type AnswerResponse struct {
	Answer string `json:"answer,omitempty"`
}
