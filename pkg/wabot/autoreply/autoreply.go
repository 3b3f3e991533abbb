// Package autoreply decides whether an inbound message gets an automatic
// reply and with what text. Decide is pure: it performs no I/O, and the
// caller is responsible for sending and logging.
package autoreply

import (
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/config"
)

// Message is the subset of an inbound message the decision depends on.
type Message struct {
	Body        string
	SenderID    string
	IsFromSelf  bool
	IsBroadcast bool
	IsGroup     bool
}

// Action is a reply to send.
type Action struct {
	// Text is the reply body.
	Text string

	// Keyword is the matched keyword, empty for the default reply.
	Keyword string

	// Default is true when no keyword matched and the default reply was used.
	Default bool
}

// Decide returns the reply for msg, or false when no reply should be sent.
// Keywords are tested in table order as case-insensitive substrings of the
// body. The first match wins.
func Decide(msg Message, cfg *config.Config) (Action, bool) {
	if cfg == nil || !cfg.AutoReply.Enabled {
		return Action{}, false
	}
	if Ignored(msg, cfg.Bot) {
		return Action{}, false
	}

	if kw, ok := Match(msg.Body, cfg.AutoReply.Keywords); ok {
		return Action{Text: kw.Response, Keyword: kw.Keyword}, true
	}

	if cfg.AutoReply.UseDefaultReply {
		return Action{Text: cfg.AutoReply.DefaultReply, Default: true}, true
	}
	return Action{}, false
}

// Ignored reports whether the ignore rules drop msg.
func Ignored(msg Message, rules config.BotConfig) bool {
	switch {
	case rules.IgnoreOwnMessages && msg.IsFromSelf:
		return true
	case rules.IgnoreGroups && msg.IsGroup:
		return true
	case rules.IgnoreBroadcast && msg.IsBroadcast:
		return true
	}
	return false
}

// Match returns the first keyword contained in body, ignoring case.
func Match(body string, table config.KeywordTable) (config.Keyword, bool) {
	lower := strings.ToLower(body)
	for _, kw := range table {
		if kw.Keyword == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw.Keyword)) {
			return kw, true
		}
	}
	return config.Keyword{}, false
}
