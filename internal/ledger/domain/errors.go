package domain

import "errors"

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidMeter        = errors.New("invalid_meter")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCredit       = errors.New("invalid_credit")
	ErrAccountNotFound     = errors.New("ledger_account_not_found")
	ErrInvalidBalanceMode  = errors.New("invalid_balance_mode")

	// ErrUnhandledCommand marks a command variant with no processor handler.
	// This is a programming error, not a recoverable runtime condition.
	ErrUnhandledCommand = errors.New("unhandled_ledger_command")
)
