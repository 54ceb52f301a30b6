package models

// Site is an upstream account site, decoded from the sites endpoint.
type Site struct {
	ID             string        `json:"id"`
	NMI            string        `json:"nmi"`
	Channels       []SiteChannel `json:"channels"`
	Network        string        `json:"network"`
	Status         string        `json:"status"`
	ActiveFrom     string        `json:"activeFrom,omitempty"`
	ClosedOn       string        `json:"closedOn,omitempty"`
	IntervalLength int           `json:"intervalLength"`
}

type SiteChannel struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	Tariff     string `json:"tariff"`
}
