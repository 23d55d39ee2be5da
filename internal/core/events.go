package core

// Event log types
const (
	EventStartup               = "STARTUP"
	EventShutdown              = "SHUTDOWN"
	EventMonitorStarted        = "EMAIL_MONITOR_STARTED"
	EventMonitorStopped        = "EMAIL_MONITOR_STOPPED"
	EventMonitorSkipped        = "EMAIL_MONITOR_SKIPPED"
	EventIMAPConnectSuccess    = "IMAP_CONNECT_SUCCESS"
	EventIMAPConnectFail       = "IMAP_CONNECT_FAIL"
	EventEmailArchived         = "EMAIL_ARCHIVED"
	EventExtractionSuccess     = "DATA_EXTRACTION_SUCCESS"
	EventExtractionFail        = "DATA_EXTRACTION_FAIL"
	EventGeocodeCacheHit       = "GEOCODE_CACHE_HIT"
	EventGeocodeSuccess        = "GEOCODE_SUCCESS"
	EventGeocodeFail           = "GEOCODE_FAIL"
	EventInvoiceCreated        = "INVOICE_CREATED"
	EventInvoiceCreateFail     = "INVOICE_CREATE_FAIL"
	EventCalendarEventCreated  = "CALENDAR_EVENT_CREATED"
	EventCalendarEventSkipped  = "CALENDAR_EVENT_SKIPPED"
	EventCalendarEventFail     = "CALENDAR_EVENT_FAIL"
	EventNotificationSent      = "NOTIFICATION_SENT"
	EventNotificationFinalFail = "NOTIFICATION_FINAL_FAIL"
	EventConfigError           = "CONFIG_ERROR"
	EventControlAction         = "CONTROL_ACTION"
	EventPipelineError         = "PIPELINE_ERROR"
)
