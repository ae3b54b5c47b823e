package models

import "time"

// TopUpRequest is the payload of the balance top-up endpoint.
type TopUpRequest struct {
	Hash string `json:"hash"`
	Sum  string `json:"sum"`
	Time int64  `json:"time"`
}

// ResultResponse is the canonical envelope for payment endpoints.
// Error is set only when Result is false.
type ResultResponse struct {
	Result      bool   `json:"result"`
	Error       string `json:"error,omitempty"`
	Redirect    bool   `json:"redirect,omitempty"`
	RedirectURI string `json:"redirectUri,omitempty"`
}

// TransactionView is one row of the balance history.
type TransactionView struct {
	Value       int64     `json:"value"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

// TransactionListResponse is a page of balance history.
type TransactionListResponse struct {
	Count        int               `json:"count"`
	Transactions []TransactionView `json:"transactions"`
}
