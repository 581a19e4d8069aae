// Package handlers defines the visitor-facing messages returned by the API.
//
// Messages are part of the contract with the website's form script, which
// displays them verbatim, so they live in one place.
package handlers

const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgNotFound         = "Not found"
	MsgInvalidBody      = "Invalid request body."
	MsgBodyTooLarge     = "Request body too large."
	MsgMissingFields    = "Please fill in all required fields (name, email, and phone)."
	MsgInProgress       = "Your inquiry is already being processed. Please wait a moment before retrying."

	// MsgSent is returned when a notification strategy succeeded.
	MsgSent = "Thank you for your inquiry! We will get back to you soon."

	// MsgSavedNotSent is the degraded-success answer: every strategy failed
	// (or something unexpected broke) but the backup record was written.
	MsgSavedNotSent = "Your inquiry was received and saved, but we could not send the notification email. " +
		"Our team will still review your submission and contact you soon."

	// MsgNotCaptured is used only when both the backup write and every
	// delivery strategy failed, so nothing was captured.
	MsgNotCaptured = "We could not process your inquiry right now. Please try again later or contact us by phone."
)
