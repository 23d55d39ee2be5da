package whitelist

import (
	"context"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/mikey/workauth-assistant/internal/core"
	"go.uber.org/zap"
)

// Checker decides whether a sender's domain is on the configured list
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker. An empty list allows every sender.
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			normalized[domain] = struct{}{}
		}
	}

	if len(normalized) > 0 {
		logger.Info("Restricting work authorizations to sender domains", zap.Strings("domains", domains))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// Enabled reports whether any domain is configured
func (c *Checker) Enabled() bool {
	return len(c.domains) > 0
}

// Allows reports whether mail from the given From header may be processed
func (c *Checker) Allows(from string) bool {
	if !c.Enabled() {
		return true
	}

	domain := senderDomain(from)
	if _, ok := c.domains[domain]; ok {
		return true
	}

	c.logger.Debug("Sender domain is not whitelisted",
		zap.String("domain", domain),
		zap.String("from", from))
	return false
}

func senderDomain(from string) string {
	address := from
	if addr, err := mail.ParseAddress(from); err == nil {
		address = addr.Address
	}
	i := strings.LastIndex(address, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(address[i+1:], "> "))
}

// Gate wraps an extractor so mail from other domains is never actionable.
// A disabled checker returns the extractor unchanged.
func Gate(extractor core.RecordExtractor, checker *Checker) core.RecordExtractor {
	if checker == nil || !checker.Enabled() {
		return extractor
	}
	return &gatedExtractor{RecordExtractor: extractor, checker: checker}
}

type gatedExtractor struct {
	core.RecordExtractor
	checker *Checker
}

func (g *gatedExtractor) IsActionable(env *core.Envelope) bool {
	return g.checker.Allows(env.From) && g.RecordExtractor.IsActionable(env)
}

func (g *gatedExtractor) Process(ctx context.Context, env *core.Envelope) *core.ExtractedRecord {
	if !g.checker.Allows(env.From) {
		return nil
	}
	return g.RecordExtractor.Process(ctx, env)
}
