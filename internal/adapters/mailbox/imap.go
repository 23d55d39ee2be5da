package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/workauth-assistant/internal/config"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by mailbox operations before Connect succeeds
	ErrNotConnected = errors.New("mailbox is not connected")

	// ErrClosed is returned once the mailbox worker has been shut down
	ErrClosed = errors.New("mailbox is closed")
)

const logoutTimeout = 10 * time.Second

// IMAPMailbox talks to an IMAP server. All protocol work runs on one
// worker goroutine that owns the connection; callers hand it jobs and wait
// for the result or their context.
type IMAPMailbox struct {
	cfg    config.IMAPConfig
	logger *zap.Logger

	jobs chan func()
	quit chan struct{}
	once sync.Once

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPMailbox creates a disconnected mailbox and starts its worker
func NewIMAPMailbox(cfg config.IMAPConfig, logger *zap.Logger) *IMAPMailbox {
	m := &IMAPMailbox{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan func()),
		quit:   make(chan struct{}),
	}
	go m.work()
	return m
}

func (m *IMAPMailbox) work() {
	for {
		select {
		case job := <-m.jobs:
			job()
		case <-m.quit:
			return
		}
	}
}

// submit runs fn on the worker. If ctx ends while fn is running the
// connection is torn down so the worker is not left blocked on the network.
func (m *IMAPMailbox) submit(ctx context.Context, fn func() error) error {
	_, err := run(ctx, m, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type outcome[T any] struct {
	val T
	err error
}

func run[T any](ctx context.Context, m *IMAPMailbox, fn func() (T, error)) (T, error) {
	var zero T
	done := make(chan outcome[T], 1)
	job := func() {
		val, err := fn()
		done <- outcome[T]{val: val, err: err}
	}

	select {
	case m.jobs <- job:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.quit:
		return zero, ErrClosed
	}

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		m.abort()
		return zero, ctx.Err()
	}
}

func (m *IMAPMailbox) abort() {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c != nil {
		m.logger.Warn("Aborting IMAP connection")
		_ = c.Close()
	}
}

func (m *IMAPMailbox) current() *imapclient.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *IMAPMailbox) setClient(c *imapclient.Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

// Connect dials and logs in, replacing any previous connection
func (m *IMAPMailbox) Connect(ctx context.Context) error {
	return m.submit(ctx, func() error {
		m.logout()

		addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
		opts := &imapclient.Options{WordDecoder: wordDecoder}

		m.logger.Info("Connecting to IMAP server", zap.String("address", addr), zap.Bool("tls", m.cfg.UseTLS))

		var (
			c   *imapclient.Client
			err error
		)
		if m.cfg.UseTLS {
			c, err = imapclient.DialTLS(addr, opts)
		} else {
			c, err = imapclient.DialInsecure(addr, opts)
		}
		if err != nil {
			return fmt.Errorf("failed to connect to IMAP %s: %w", addr, err)
		}

		if err := c.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
			_ = c.Close()
			return fmt.Errorf("IMAP login failed for %s: %w", m.cfg.Username, err)
		}

		m.setClient(c)
		m.logger.Info("IMAP login successful", zap.String("username", m.cfg.Username))
		return nil
	})
}

// IsConnected reports whether a logged-in connection is available
func (m *IMAPMailbox) IsConnected() bool {
	c := m.current()
	if c == nil {
		return false
	}
	switch c.State() {
	case imap.ConnStateAuthenticated, imap.ConnStateSelected:
		return true
	default:
		return false
	}
}

// FetchUnseen returns every unseen message in folder. Fetching the body
// marks the messages \Seen on the server.
func (m *IMAPMailbox) FetchUnseen(ctx context.Context, folder string) ([]*core.Envelope, error) {
	return run(ctx, m, func() ([]*core.Envelope, error) {
		c := m.current()
		if c == nil {
			return nil, ErrNotConnected
		}

		if _, err := c.Select(folder, nil).Wait(); err != nil {
			return nil, fmt.Errorf("failed to select mailbox %q: %w", folder, err)
		}

		criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
		data, err := c.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("failed to search mailbox %q: %w", folder, err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil, nil
		}
		m.logger.Info("Found unseen messages", zap.String("folder", folder), zap.Int("count", len(uids)))

		section := &imap.FetchItemBodySection{}
		fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{section},
		})
		defer fetchCmd.Close()

		var envelopes []*core.Envelope
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}
			buf, err := msg.Collect()
			if err != nil {
				m.logger.Warn("Failed to read fetched message", zap.Error(err))
				continue
			}

			uid := strconv.FormatUint(uint64(buf.UID), 10)
			raw := buf.FindBodySection(section)
			if raw == nil {
				m.logger.Warn("Fetched message has no body", zap.String("uid", uid))
				continue
			}

			env, err := ParseMessage(uid, raw)
			if err != nil {
				m.logger.Warn("Failed to parse message, using raw body", zap.String("uid", uid), zap.Error(err))
			}
			envelopes = append(envelopes, env)
		}

		if err := fetchCmd.Close(); err != nil {
			return envelopes, fmt.Errorf("failed to fetch messages: %w", err)
		}
		return envelopes, nil
	})
}

// Archive moves a message from sourceFolder to destFolder, creating the
// destination when needed
func (m *IMAPMailbox) Archive(ctx context.Context, uid, sourceFolder, destFolder string) error {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid message uid %q: %w", uid, err)
	}
	uidSet := imap.UIDSetNum(imap.UID(n))

	return m.submit(ctx, func() error {
		c := m.current()
		if c == nil {
			return ErrNotConnected
		}

		if _, err := c.Select(sourceFolder, nil).Wait(); err != nil {
			return fmt.Errorf("failed to select mailbox %q: %w", sourceFolder, err)
		}

		if err := c.Create(destFolder, nil).Wait(); err != nil {
			m.logger.Debug("Create mailbox failed, assuming it exists",
				zap.String("folder", destFolder),
				zap.Error(err))
		}

		if _, err := c.Copy(uidSet, destFolder).Wait(); err != nil {
			return fmt.Errorf("failed to copy message %s to %q: %w", uid, destFolder, err)
		}

		storeCmd := c.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("failed to flag message %s deleted: %w", uid, err)
		}

		var expungeCmd *imapclient.ExpungeCommand
		if c.Caps().Has(imap.CapUIDPlus) {
			expungeCmd = c.UIDExpunge(uidSet)
		} else {
			expungeCmd = c.Expunge()
		}
		if err := expungeCmd.Close(); err != nil {
			return fmt.Errorf("failed to expunge %q: %w", sourceFolder, err)
		}

		m.logger.Info("Archived message",
			zap.String("uid", uid),
			zap.String("from", sourceFolder),
			zap.String("to", destFolder))
		return nil
	})
}

// Disconnect logs out and drops the connection
func (m *IMAPMailbox) Disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	err := m.submit(ctx, func() error {
		m.logout()
		return nil
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn("Error during IMAP disconnect", zap.Error(err))
	}
}

// Close disconnects and stops the worker
func (m *IMAPMailbox) Close() {
	m.Disconnect()
	m.once.Do(func() { close(m.quit) })
}

// logout must only run on the worker
func (m *IMAPMailbox) logout() {
	c := m.current()
	if c == nil {
		return
	}
	m.setClient(nil)

	if err := c.Logout().Wait(); err != nil {
		m.logger.Debug("IMAP logout failed", zap.Error(err))
	}
	if err := c.Close(); err != nil {
		m.logger.Debug("IMAP close failed", zap.Error(err))
	}
	m.logger.Info("IMAP connection closed")
}

var _ core.Mailbox = (*IMAPMailbox)(nil)
