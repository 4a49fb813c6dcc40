package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/config"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/adapters/metrics"
	"gitlab.com/timkado/api/daisi-webhook-worker/internal/domain"
)

// Decision reasons.
const (
	ReasonDisabled    = "auto_reply_disabled"
	ReasonNoRules     = "no_rules"
	ReasonNoMatch     = "no_match"
	ReasonMatched     = "matched"
	ReasonRateLimited = "rate_limited"
	ReasonNoAccount   = "account_unavailable"
	ReasonGateway     = "gateway_error"
)

var questionWords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "why": {}, "who": {}, "how": {},
	"is": {}, "are": {}, "can": {}, "could": {}, "would": {}, "will": {},
	"do": {}, "does": {},
}

var greetings = []string{
	"hi", "hello", "hey", "hiya", "howdy", "greetings", "yo",
	"good morning", "good afternoon", "good evening",
	"hola", "buenos dias", "buenas tardes", "bonjour", "salut", "hallo", "guten tag",
	"ciao", "ola", "olá", "namaste", "salam", "assalamualaikum", "halo", "hai",
	"selamat pagi", "selamat siang", "selamat sore", "selamat malam",
	"merhaba", "привет", "здравствуйте", "こんにちは", "你好", "안녕하세요", "مرحبا",
}

// AutoReplyEngine decides whether an incoming comment or message earns an automated
// response and dispatches it within the account's call budget.
type AutoReplyEngine struct {
	accounts       domain.AccountLookup
	rules          domain.AutoReplyRuleRepository
	gateway        domain.MessagingGateway
	limiter        *RateLimiter
	configProvider config.Provider
	logger         domain.Logger
	patterns       sync.Map // pattern string -> *regexp.Regexp (nil when invalid)
}

func NewAutoReplyEngine(
	accounts domain.AccountLookup,
	rules domain.AutoReplyRuleRepository,
	gateway domain.MessagingGateway,
	limiter *RateLimiter,
	configProvider config.Provider,
	logger domain.Logger,
) *AutoReplyEngine {
	return &AutoReplyEngine{
		accounts:       accounts,
		rules:          rules,
		gateway:        gateway,
		limiter:        limiter,
		configProvider: configProvider,
		logger:         logger,
	}
}

// ShouldAutoReply evaluates the account's enabled rules for eventType in ascending
// priority; the first match wins.
func (e *AutoReplyEngine) ShouldAutoReply(ctx context.Context, accountID, text string, eventType domain.EventType) (domain.AutoReplyDecision, error) {
	account, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.AutoReplyDecision{}, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	if !account.AutoReplyEnabled {
		return domain.AutoReplyDecision{Reason: ReasonDisabled}, nil
	}

	rules, err := e.rules.ListEnabledRules(ctx, accountID, eventType)
	if err != nil {
		return domain.AutoReplyDecision{}, fmt.Errorf("failed to load auto-reply rules for %s: %w", accountID, err)
	}
	applicable := rules[:0:0]
	for _, r := range rules {
		if r.Enabled && r.AppliesTo(eventType) {
			applicable = append(applicable, r)
		}
	}
	if len(applicable) == 0 {
		return domain.AutoReplyDecision{Reason: ReasonNoRules}, nil
	}
	sort.SliceStable(applicable, func(i, j int) bool { return applicable[i].Priority < applicable[j].Priority })

	normalized := strings.ToLower(strings.TrimSpace(text))
	for i := range applicable {
		rule := applicable[i]
		if e.matches(ctx, rule, normalized) {
			return domain.AutoReplyDecision{Should: true, Rule: &rule, Reason: ReasonMatched}, nil
		}
	}
	return domain.AutoReplyDecision{Reason: ReasonNoMatch}, nil
}

func (e *AutoReplyEngine) matches(ctx context.Context, rule domain.AutoReplyRule, text string) bool {
	switch rule.Trigger {
	case domain.TriggerKeyword:
		return e.matchKeyword(ctx, rule.Pattern, text)
	case domain.TriggerQuestion:
		return isQuestion(text)
	case domain.TriggerGreeting:
		return isGreeting(text)
	case domain.TriggerAway:
		return true
	}
	return false
}

// matchKeyword treats /expr/ and re:expr patterns as case-insensitive regular
// expressions and anything else as a comma-separated keyword list.
func (e *AutoReplyEngine) matchKeyword(ctx context.Context, pattern, text string) bool {
	if text == "" {
		return false
	}
	if expr, ok := regexBody(pattern); ok {
		re := e.compile(ctx, expr)
		return re != nil && re.MatchString(text)
	}
	for _, kw := range strings.Split(pattern, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func regexBody(pattern string) (string, bool) {
	p := strings.TrimSpace(pattern)
	if strings.HasPrefix(p, "re:") {
		return strings.TrimPrefix(p, "re:"), true
	}
	if len(p) >= 2 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
		return p[1 : len(p)-1], true
	}
	return "", false
}

func (e *AutoReplyEngine) compile(ctx context.Context, expr string) *regexp.Regexp {
	if cached, ok := e.patterns.Load(expr); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		e.logger.Warn(ctx, "Invalid auto-reply keyword pattern, rule will never match",
			"pattern", expr,
			"error", err.Error(),
		)
		re = nil
	}
	e.patterns.Store(expr, re)
	return re
}

func isQuestion(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	// The leading word ends at the first non-letter, so "what's" reads as "what".
	notLetter := func(r rune) bool { return !unicode.IsLetter(r) }
	rest := strings.TrimLeftFunc(text, notLetter)
	first := rest
	if end := strings.IndexFunc(rest, notLetter); end >= 0 {
		first = rest[:end]
	}
	_, ok := questionWords[first]
	return ok
}

func isGreeting(text string) bool {
	for _, g := range greetings {
		if text == g {
			return true
		}
		if strings.HasPrefix(text, g) {
			next, _ := utf8.DecodeRuneInString(text[len(g):])
			if !unicode.IsLetter(next) {
				return true
			}
		}
	}
	return false
}

// RenderResponse fills the {username} placeholder.
func RenderResponse(rule *domain.AutoReplyRule, username string) string {
	if rule == nil {
		return ""
	}
	if username == "" {
		username = "there"
	}
	return strings.ReplaceAll(rule.Response, "{username}", username)
}

// ReplyToComment posts a public reply under commentID. It never returns an error; the
// outcome is carried in the result.
func (e *AutoReplyEngine) ReplyToComment(ctx context.Context, accountID, commentID, text string) domain.ReplyResult {
	return e.dispatch(ctx, accountID, "comment", func(ctx context.Context, creds domain.GatewayCredentials) (string, error) {
		return e.gateway.ReplyToComment(ctx, creds, commentID, text)
	})
}

// ReplyToMessage sends a direct message to recipientID.
func (e *AutoReplyEngine) ReplyToMessage(ctx context.Context, accountID, recipientID, text string) domain.ReplyResult {
	return e.dispatch(ctx, accountID, "message", func(ctx context.Context, creds domain.GatewayCredentials) (string, error) {
		return e.gateway.ReplyToMessage(ctx, creds, recipientID, text)
	})
}

func (e *AutoReplyEngine) dispatch(
	ctx context.Context,
	accountID, target string,
	send func(context.Context, domain.GatewayCredentials) (string, error),
) domain.ReplyResult {
	account, err := e.accounts.GetAccount(ctx, accountID)
	if err != nil {
		e.logger.Warn(ctx, "Auto-reply skipped, account unavailable", "accountID", accountID, "error", err.Error())
		metrics.IncrementAutoReply(target, "error")
		return domain.ReplyResult{Reason: ReasonNoAccount, Err: err, Retryable: !errors.Is(err, domain.ErrAccountNotFound)}
	}

	if wait := e.limiter.ShouldWait(ctx, accountID); wait > 0 {
		e.logger.Info(ctx, "Auto-reply deferred by rate limit", "accountID", accountID, "wait", wait.String())
		metrics.IncrementAutoReply(target, "rate_limited")
		return domain.ReplyResult{Reason: ReasonRateLimited, Err: domain.ErrRateLimited, Retryable: true}
	}

	timeout := time.Duration(e.configProvider.Get().AutoReply.ReplyTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replyID, err := send(callCtx, domain.GatewayCredentials{
		AccessToken:        account.AccessToken,
		InstagramAccountID: account.InstagramAccountID,
	})
	if err != nil {
		retryable := domain.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
		e.logger.Warn(ctx, "Auto-reply dispatch failed",
			"accountID", accountID,
			"target", target,
			"retryable", retryable,
			"error", err.Error(),
		)
		metrics.IncrementAutoReply(target, "error")
		return domain.ReplyResult{Reason: ReasonGateway, Err: err, Retryable: retryable}
	}

	e.limiter.RecordAPICall(ctx, accountID)
	metrics.IncrementAutoReply(target, "sent")
	e.logger.Info(ctx, "Auto-reply sent",
		"accountID", accountID,
		"target", target,
		"replyID", replyID,
	)
	return domain.ReplyResult{Sent: true, ReplyID: replyID, Reason: ReasonMatched}
}
