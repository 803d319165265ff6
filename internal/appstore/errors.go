package appstore

import (
	"fmt"
	"strings"
)

// LoginError is a failed login or an unusable cached session
type LoginError struct {
	Reason          string
	FailureType     string
	CustomerMessage string
	// Requires2FA is set when the account needs a verification code
	Requires2FA bool
}

func (e *LoginError) Error() string {
	if e.FailureType == "" && e.CustomerMessage == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (failureType=%s): %s", e.Reason, e.FailureType, e.CustomerMessage)
}

// Name is the error category
func (e *LoginError) Name() string { return "LoginError" }

// AppInfoError is an empty or failed app info response
type AppInfoError struct {
	Reason          string
	FailureType     string
	CustomerMessage string
}

func (e *AppInfoError) Error() string {
	if e.FailureType == "" && e.CustomerMessage == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (failureType=%s): %s", e.Reason, e.FailureType, e.CustomerMessage)
}

// Name is the error category
func (e *AppInfoError) Name() string { return "AppInfoError" }

func (e *AppInfoError) mentions(code string) bool {
	return strings.Contains(e.FailureType, code) || strings.Contains(e.CustomerMessage, code)
}

// SessionExpired reports the password token and cookie expiry markers;
// refreshing the session fixes it
func (e *AppInfoError) SessionExpired() bool {
	return e.mentions(FailureTypeCookieExpired) && e.mentions(FailureTypePasswordTokenExpired)
}

// LicenseMissing reports that the account does not own the app; purchasing
// it fixes it
func (e *AppInfoError) LicenseMissing() bool {
	return e.mentions(FailureTypeLicenseNotFound)
}

// purchaseFailures maps buyProduct failure types to a category
var purchaseFailures = map[string]string{
	FailureTypeUnknownError:           "[Unknown error] Already purchased",
	"2040":                            "[Purchase failed] Already purchased, removed from store",
	FailureTypeTemporarilyUnavailable: "[Purchase failed] Not purchased, removed from store, not available in region",
	"1010":                            "[Invalid Store] Not available in this region",
	FailureTypePasswordTokenExpired:   "[Not logged in to iTunes Store] CK expired",
	FailureTypeCookieExpired:          "[Not logged in to iTunes Store] CK empty or expired",
	"2019":                            "[Purchase failed] Cannot directly purchase paid app",
	FailureTypeLicenseNotFound:        "[License not found] Not purchased or invalid app ID",
}

// PurchaseError is a rejected buyProduct request
type PurchaseError struct {
	FailureType     string
	CustomerMessage string
	Category        string
}

func newPurchaseError(failureType, msg string) *PurchaseError {
	category, ok := purchaseFailures[failureType]
	if !ok {
		category = "[Purchase failed] " + msg
	}
	return &PurchaseError{FailureType: failureType, CustomerMessage: msg, Category: category}
}

func (e *PurchaseError) Error() string { return e.Category }

// Name is the error category
func (e *PurchaseError) Name() string { return "buyError" }
