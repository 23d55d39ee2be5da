package core

import (
	"fmt"
	"strings"
	"time"
)

// Notification is a processing summary handed to a Notifier
type Notification struct {
	Title   string
	Message string
	Success bool
	Details map[string]any
}

// NewSuccessNotification summarizes a processed record, including any
// dispatch problems that did not stop processing
func NewSuccessNotification(record *ExtractedRecord, problems []string) Notification {
	parts := []string{fmt.Sprintf("Email (Subject: %s) processed.", record.OriginalSubject)}
	if record.InvoiceID != "" {
		parts = append(parts, fmt.Sprintf("Invoice %s created.", record.InvoiceID))
	}
	if record.CalendarEventID != "" {
		parts = append(parts, fmt.Sprintf("Calendar event %s created.", record.CalendarEventID))
	}
	if record.InvoiceID == "" && record.CalendarEventID == "" && len(problems) == 0 {
		parts = append(parts, "No actions taken.")
	}
	if len(problems) > 0 {
		parts = append(parts, "Problems: "+strings.Join(problems, "; ")+".")
	}

	details := map[string]any{
		"authorization_id":  record.AuthorizationID,
		"email_subject":     record.OriginalSubject,
		"client_name":       record.ClientName,
		"client_email":      record.ClientEmail,
		"invoice_id":        record.InvoiceID,
		"calendar_event_id": record.CalendarEventID,
	}
	if record.ServiceDateTime != nil {
		details["service_datetime"] = record.ServiceDateTime.Format(time.RFC3339)
	}
	if record.Mileage != nil {
		details["mileage"] = *record.Mileage
	}
	if len(problems) > 0 {
		details["problems"] = problems
	}

	return Notification{
		Title:   fmt.Sprintf("Email Processed Successfully for Auth ID: %s", record.AuthorizationID),
		Message: strings.Join(parts, " "),
		Success: true,
		Details: details,
	}
}

// NewFailureNotification summarizes an email that could not be processed
func NewFailureNotification(subject, authorizationID, uid, errText string) Notification {
	if authorizationID == "" {
		authorizationID = "N/A"
	}
	return Notification{
		Title:   fmt.Sprintf("Error Processing Email for Auth ID: %s", authorizationID),
		Message: fmt.Sprintf("Failed to fully process email (Subject: %s). Error: %s", subject, errText),
		Success: false,
		Details: map[string]any{
			"authorization_id": authorizationID,
			"email_subject":    subject,
			"uid":              uid,
			"error":            errText,
		},
	}
}
