package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPipelineRunning is returned by Start when a run is already active
	ErrPipelineRunning = errors.New("pipeline is already running")

	// ErrPipelineStopping is returned by Start while a previous run is winding down
	ErrPipelineStopping = errors.New("pipeline is stopping")

	errMailboxUnavailable = errors.New("mailbox unavailable")
)

// PipelineState is the lifecycle state of a PipelineController
type PipelineState int

const (
	StateStopped PipelineState = iota
	StateRunning
	StateStopping
)

func (s PipelineState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// PipelineConfig holds the folders and timings the poll loop works with
type PipelineConfig struct {
	Inbox           string
	ProcessedFolder string
	FailedFolder    string
	PollInterval    time.Duration
	HTTPTimeout     time.Duration
}

// PipelineStatus is a snapshot of the controller
type PipelineStatus struct {
	State     PipelineState
	RunID     string
	Message   string
	Processed int64
}

// PipelineOption customizes a PipelineController
type PipelineOption func(*PipelineController)

// WithClock overrides the clock used to decide whether a service date is in the past
func WithClock(now func() time.Time) PipelineOption {
	return func(p *PipelineController) {
		p.now = now
	}
}

// WithHTTPClientFactory overrides how the per-run HTTP client is created
func WithHTTPClientFactory(newClient func() *http.Client) PipelineOption {
	return func(p *PipelineController) {
		p.newHTTPClient = newClient
	}
}

// PipelineController owns the poll loop: it fetches unseen mail, hands each
// message to the extractor and dispatches the resulting record to the
// invoice, calendar and notification collaborators before archiving it.
type PipelineController struct {
	cfg           PipelineConfig
	mailbox       Mailbox
	factory       CollaboratorFactory
	status        StatusSink
	events        EventLogger
	logger        *zap.Logger
	now           func() time.Time
	newHTTPClient func() *http.Client

	mu         sync.Mutex
	state      PipelineState
	runID      string
	stopCh     chan struct{}
	done       chan struct{}
	cancel     context.CancelFunc
	httpClient *http.Client
	collab     *Collaborators

	// UIDs already handled during this process lifetime. Only the loop
	// goroutine touches the map, and runs never overlap.
	processed      map[string]struct{}
	processedCount atomic.Int64
}

// NewPipelineController creates a stopped controller
func NewPipelineController(
	cfg PipelineConfig,
	mailbox Mailbox,
	factory CollaboratorFactory,
	status StatusSink,
	events EventLogger,
	logger *zap.Logger,
	opts ...PipelineOption,
) *PipelineController {
	if events == nil {
		events = NopEventLogger{}
	}
	p := &PipelineController{
		cfg:       cfg,
		mailbox:   mailbox,
		factory:   factory,
		status:    status,
		events:    events,
		logger:    logger,
		now:       time.Now,
		processed: make(map[string]struct{}),
	}
	p.newHTTPClient = p.defaultHTTPClient
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PipelineController) defaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Timeout:   p.cfg.HTTPTimeout,
		Transport: transport,
	}
}

// Start launches the poll loop in its own goroutine
func (p *PipelineController) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateRunning:
		return ErrPipelineRunning
	case StateStopping:
		return ErrPipelineStopping
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.runID = uuid.NewString()
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.cancel = cancel
	p.state = StateRunning

	p.logger.Info("Starting email monitoring",
		zap.String("run_id", p.runID),
		zap.String("inbox", p.cfg.Inbox),
		zap.Duration("poll_interval", p.cfg.PollInterval))
	p.events.Log(ctx, EventMonitorStarted, "Email monitoring started", "run_id: "+p.runID)
	p.broadcast("INFO: Email monitoring started.")

	go p.run(ctx, p.stopCh, p.done)
	return nil
}

// Stop prevents the next message and the next poll from starting, waits for
// the in-flight message to finish and releases the run's HTTP session and
// mailbox connection. If ctx expires first the in-flight work is cancelled.
// Calling Stop on a stopped controller is a no-op.
func (p *PipelineController) Stop(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StateStopped:
		p.mu.Unlock()
		return nil
	case StateStopping:
		done := p.done
		p.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.state = StateStopping
	close(p.stopCh)
	done, cancel, runID := p.done, p.cancel, p.runID
	p.mu.Unlock()

	p.logger.Info("Stopping email monitoring", zap.String("run_id", runID))
	p.broadcast("INFO: Stopping email monitoring...")

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("Stop deadline reached, cancelling in-flight work", zap.String("run_id", runID))
		err = ctx.Err()
		cancel()
		<-done
	}
	cancel()

	p.mu.Lock()
	p.releaseSessionLocked()
	p.state = StateStopped
	p.mu.Unlock()

	p.mailbox.Disconnect()

	p.events.Log(context.Background(), EventMonitorStopped, "Email monitoring stopped", "run_id: "+runID)
	p.broadcast("INFO: Email monitoring stopped.")
	p.logger.Info("Email monitoring stopped", zap.String("run_id", runID))
	return err
}

// Running reports whether the poll loop is active
func (p *PipelineController) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

// Status returns a snapshot of the controller
func (p *PipelineController) Status() PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	var message string
	switch p.state {
	case StateRunning:
		message = "Email monitoring is active."
	case StateStopping:
		message = "Email monitoring is stopping."
	default:
		message = "Email monitoring is stopped."
	}
	return PipelineStatus{
		State:     p.state,
		RunID:     p.runID,
		Message:   message,
		Processed: p.processedCount.Load(),
	}
}

func (p *PipelineController) releaseSessionLocked() {
	if p.httpClient != nil {
		p.httpClient.CloseIdleConnections()
		p.httpClient = nil
	}
	p.collab = nil
}

// collaborators lazily builds the per-run collaborators around a fresh HTTP client
func (p *PipelineController) collaborators(ctx context.Context) (*Collaborators, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.collab != nil {
		return p.collab, nil
	}

	client := p.newHTTPClient()
	collab, err := p.factory.Build(ctx, client)
	if err != nil {
		client.CloseIdleConnections()
		return nil, err
	}
	if collab == nil || collab.Extractor == nil {
		client.CloseIdleConnections()
		return nil, errors.New("collaborator factory returned no extractor")
	}

	p.httpClient = client
	p.collab = collab
	return collab, nil
}

func (p *PipelineController) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		wait := p.cfg.PollInterval
		if err := p.pollOnce(ctx, stop); err != nil {
			if !errors.Is(err, errMailboxUnavailable) {
				wait = 2 * p.cfg.PollInterval
				p.logger.Error("Unexpected error in email processing loop", zap.Error(err))
				p.events.Log(ctx, EventPipelineError, "Unexpected error in email processing loop", err.Error())
				p.broadcast(fmt.Sprintf("CRITICAL_ERROR: Unexpected error in email processing loop: %v. Retrying in %s.", err, wait))
			}
		}

		if !p.wait(ctx, stop, wait) {
			return
		}
	}
}

func (p *PipelineController) wait(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// pollOnce runs a single iteration of the loop. Panics are turned into errors
// so the loop keeps going.
func (p *PipelineController) pollOnce(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll loop: %v", r)
		}
	}()

	if !p.mailbox.IsConnected() {
		p.broadcast("INFO: Connecting to IMAP server...")
		if err := p.mailbox.Connect(ctx); err != nil {
			p.logger.Warn("IMAP connection failed", zap.Error(err))
			p.events.Log(ctx, EventIMAPConnectFail, "IMAP connection failed", err.Error())
			p.broadcast(fmt.Sprintf("ERROR: IMAP connection failed: %v. Retrying in %s.", err, p.cfg.PollInterval))
			return fmt.Errorf("%w: %v", errMailboxUnavailable, err)
		}
		p.events.Log(ctx, EventIMAPConnectSuccess, "Connected to IMAP server", "")
		p.broadcast("INFO: Connected to IMAP server.")
	}

	collab, err := p.collaborators(ctx)
	if err != nil {
		return fmt.Errorf("failed to build collaborators: %w", err)
	}

	envelopes, err := p.mailbox.FetchUnseen(ctx, p.cfg.Inbox)
	if err != nil {
		p.logger.Warn("Failed to fetch unseen emails", zap.String("folder", p.cfg.Inbox), zap.Error(err))
		p.broadcast(fmt.Sprintf("ERROR: Failed to fetch emails: %v. Reconnecting.", err))
		p.mailbox.Disconnect()
		return fmt.Errorf("%w: %v", errMailboxUnavailable, err)
	}

	if len(envelopes) == 0 {
		p.logger.Debug("No new emails", zap.String("folder", p.cfg.Inbox))
		return nil
	}
	p.broadcast(fmt.Sprintf("INFO: Found %d new email(s).", len(envelopes)))

	for _, env := range envelopes {
		select {
		case <-stop:
			p.logger.Info("Stop requested, leaving remaining emails for the next run")
			return nil
		default:
		}

		if _, seen := p.processed[env.UID]; seen {
			p.logger.Debug("Skipping already processed email", zap.String("uid", env.UID))
			continue
		}
		// Marked before any side effect: a message is handled at most once per process
		p.processed[env.UID] = struct{}{}
		p.processedCount.Add(1)

		p.handle(ctx, collab, env)
	}
	return nil
}

func (p *PipelineController) handle(ctx context.Context, collab *Collaborators, env *Envelope) {
	p.logger.Info("Processing email",
		zap.String("uid", env.UID),
		zap.String("subject", env.Subject),
		zap.String("from", env.From))
	p.broadcast(fmt.Sprintf("INFO: Processing email - Subject: %s...", truncate(env.Subject, 50)))

	if !collab.Extractor.IsActionable(env) {
		p.broadcast(fmt.Sprintf("INFO: Email UID %s is not a work authorization. Leaving it in %s.", env.UID, p.cfg.Inbox))
		return
	}

	record := collab.Extractor.Process(ctx, env)
	if record == nil {
		errText := "authorization ID could not be extracted"
		p.broadcast(fmt.Sprintf("WARNING: Could not extract data from email UID %s.", env.UID))
		p.notify(ctx, collab, NewFailureNotification(env.Subject, "", env.UID, errText))
		p.archive(ctx, env, p.cfg.FailedFolder)
		return
	}
	p.broadcast(fmt.Sprintf("SUCCESS: Extracted data for Auth ID %s.", record.AuthorizationID))

	var problems []string
	if problem := p.createInvoice(ctx, collab, record); problem != "" {
		problems = append(problems, problem)
	}
	if problem := p.scheduleEvent(ctx, collab, record); problem != "" {
		problems = append(problems, problem)
	}

	p.notify(ctx, collab, NewSuccessNotification(record, problems))
	p.broadcast(summary(record, problems))

	p.archive(ctx, env, p.cfg.ProcessedFolder)
}

func (p *PipelineController) createInvoice(ctx context.Context, collab *Collaborators, record *ExtractedRecord) string {
	if collab.Invoices == nil {
		return ""
	}

	id, err := collab.Invoices.CreateInvoice(ctx, record)
	if err != nil {
		p.logger.Error("Invoice creation failed",
			zap.String("authorization_id", record.AuthorizationID),
			zap.Error(err))
		p.events.Log(ctx, EventInvoiceCreateFail, "Invoice creation failed for Auth ID: "+record.AuthorizationID, err.Error())
		p.broadcast(fmt.Sprintf("ERROR: Invoice creation failed for Auth ID %s: %v", record.AuthorizationID, err))
		return "invoice creation failed: " + err.Error()
	}

	record.InvoiceID = id
	p.events.Log(ctx, EventInvoiceCreated, "Invoice created for Auth ID: "+record.AuthorizationID, "invoice_id: "+id)
	p.broadcast(fmt.Sprintf("SUCCESS: Invoice %s created for Auth ID %s.", id, record.AuthorizationID))
	return ""
}

func (p *PipelineController) scheduleEvent(ctx context.Context, collab *Collaborators, record *ExtractedRecord) string {
	if collab.Calendar == nil {
		return ""
	}

	switch {
	case record.ServiceDateTime == nil:
		p.events.Log(ctx, EventCalendarEventSkipped, "No service date for Auth ID: "+record.AuthorizationID, "")
		p.broadcast(fmt.Sprintf("INFO: No service date for Auth ID %s. Skipping calendar event.", record.AuthorizationID))
		return ""
	case record.ServiceDateTime.Before(p.now()):
		p.events.Log(ctx, EventCalendarEventSkipped, "Service date in the past for Auth ID: "+record.AuthorizationID,
			record.ServiceDateTime.Format(time.RFC3339))
		p.broadcast(fmt.Sprintf("INFO: Service date for Auth ID %s is in the past. Skipping calendar event.", record.AuthorizationID))
		return ""
	}

	id, err := collab.Calendar.CreateEvent(ctx, record)
	if err != nil {
		p.logger.Error("Calendar event creation failed",
			zap.String("authorization_id", record.AuthorizationID),
			zap.Error(err))
		p.events.Log(ctx, EventCalendarEventFail, "Calendar event creation failed for Auth ID: "+record.AuthorizationID, err.Error())
		p.broadcast(fmt.Sprintf("ERROR: Calendar event creation failed for Auth ID %s: %v", record.AuthorizationID, err))
		return "calendar event creation failed: " + err.Error()
	}
	if id == "" {
		p.events.Log(ctx, EventCalendarEventSkipped, "Calendar event skipped for Auth ID: "+record.AuthorizationID, "")
		return ""
	}

	record.CalendarEventID = id
	p.events.Log(ctx, EventCalendarEventCreated, "Calendar event created for Auth ID: "+record.AuthorizationID, "event_id: "+id)
	p.broadcast(fmt.Sprintf("SUCCESS: Calendar event %s created for Auth ID %s.", id, record.AuthorizationID))
	return ""
}

func (p *PipelineController) notify(ctx context.Context, collab *Collaborators, n Notification) {
	if collab.Notifier == nil {
		return
	}

	if err := collab.Notifier.Send(ctx, n); err != nil {
		p.logger.Error("Failed to send notification", zap.String("title", n.Title), zap.Error(err))
		p.events.Log(ctx, EventNotificationFinalFail, "Notification failed: "+n.Title, err.Error())
		p.broadcast(fmt.Sprintf("ERROR: Failed to send notification: %v", err))
		return
	}
	p.events.Log(ctx, EventNotificationSent, n.Title, n.Message)
}

func (p *PipelineController) archive(ctx context.Context, env *Envelope, dest string) {
	if err := p.mailbox.Archive(ctx, env.UID, p.cfg.Inbox, dest); err != nil {
		p.logger.Error("Failed to archive email",
			zap.String("uid", env.UID),
			zap.String("destination", dest),
			zap.Error(err))
		p.broadcast(fmt.Sprintf("ERROR: Failed to archive email UID %s to %s: %v", env.UID, dest, err))
		return
	}
	p.events.Log(ctx, EventEmailArchived, fmt.Sprintf("Email UID %s archived to %s", env.UID, dest), env.Subject)
	p.broadcast(fmt.Sprintf("INFO: Email UID %s archived to %s.", env.UID, dest))
}

func (p *PipelineController) broadcast(line string) {
	if p.status != nil {
		p.status.Broadcast(line)
	}
}

func summary(record *ExtractedRecord, problems []string) string {
	invoice := record.InvoiceID
	if invoice == "" {
		invoice = "none"
	}
	event := record.CalendarEventID
	if event == "" {
		event = "none"
	}
	line := fmt.Sprintf("SUMMARY [AuthID %s]: invoice=%s, calendar_event=%s", record.AuthorizationID, invoice, event)
	if len(problems) > 0 {
		line += fmt.Sprintf(", problems=%d", len(problems))
	}
	return line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
