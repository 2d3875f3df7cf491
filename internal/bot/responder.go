// Package bot implements the site assistant: a stateless, rule-based
// responder answering on the reserved bot room.
package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Tyrowin/blogchat/internal/store"
)

// Welcome is sent when a client joins the bot room.
const Welcome = "Hello! I'm the site assistant. Ask me for 'latest', 'donate', or 'help'."

// ErrorReply is sent to the asking client when a rule fails.
const ErrorReply = "Bot encountered an error."

// DefaultLatestLimit is the number of posts listed by the "latest" rule.
const DefaultLatestLimit = 3

var greeting = regexp.MustCompile(`\b(hi|hello|hey)\b`)

// Rule pairs a predicate over the lower-cased, trimmed input with a reply
// generator. Rules are evaluated in order and the first match wins.
type Rule struct {
	Name  string
	Match func(lower string) bool
	Reply func(ctx context.Context) (string, error)
}

// Reply is the responder's answer and the rule that produced it.
type Reply struct {
	Rule string
	Text string
}

// Options configures the responder's copy.
type Options struct {
	// SiteURL prefixes the donation link.
	SiteURL string
	// Contact is the support address quoted by the contact rule.
	Contact string
	// LatestLimit caps the "latest" listing. Zero means DefaultLatestLimit.
	LatestLimit int
}

// Responder answers bot-room messages from a fixed rule table.
type Responder struct {
	rules []Rule
}

// New builds the standard rule table. posts backs the "latest" rule.
func New(posts store.PostReader, opts Options) *Responder {
	if opts.Contact == "" {
		opts.Contact = "support@example.com"
	}
	if opts.LatestLimit <= 0 {
		opts.LatestLimit = DefaultLatestLimit
	}
	siteURL := strings.TrimRight(opts.SiteURL, "/")

	return NewWithRules([]Rule{
		{
			Name:  "empty",
			Match: func(lower string) bool { return lower == "" },
			Reply: static("I'm here. Send me a message and I can help with: 'latest', 'donate', 'help'."),
		},
		{
			Name:  "greeting",
			Match: greeting.MatchString,
			Reply: static("Hi there! I'm the site assistant. You can ask me for 'latest' posts, how to 'donate', or ask for 'help'."),
		},
		{
			Name:  "help",
			Match: contains("help"),
			Reply: static("I can help with:\n- 'latest': show recent posts\n- 'donate': donation link\n- 'contact': how to reach the team\nTry sending 'latest' to see recent posts."),
		},
		{
			Name:  "donate",
			Match: contains("donate"),
			Reply: static(fmt.Sprintf("Thanks for wanting to support us! Donate here: %s/donate", siteURL)),
		},
		{
			Name:  "contact",
			Match: contains("contact"),
			Reply: static(fmt.Sprintf("You can reach out at %s or use the contact form on the site.", opts.Contact)),
		},
		{
			Name:  "latest",
			Match: contains("latest"),
			Reply: latestPosts(posts, opts.LatestLimit),
		},
		{
			Name:  "identity",
			Match: contains("who are you", "what are you"),
			Reply: static("I'm an automated assistant here to help with simple site questions. For complex issues please contact support."),
		},
		{
			Name:  "fallback",
			Match: func(string) bool { return true },
			Reply: static("Sorry, I didn't understand that. Try 'help' to see what I can do."),
		},
	})
}

// NewWithRules builds a responder over a custom rule table.
func NewWithRules(rules []Rule) *Responder {
	return &Responder{rules: rules}
}

// Respond returns the reply of the first rule matching text. An error means
// the matching rule's generator failed.
func (r *Responder) Respond(ctx context.Context, text string) (Reply, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, rule := range r.rules {
		if !rule.Match(lower) {
			continue
		}
		reply, err := rule.Reply(ctx)
		if err != nil {
			return Reply{Rule: rule.Name}, fmt.Errorf("bot: rule %s: %w", rule.Name, err)
		}
		return Reply{Rule: rule.Name, Text: reply}, nil
	}
	return Reply{}, nil
}

func static(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func contains(needles ...string) func(string) bool {
	return func(lower string) bool {
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

func latestPosts(posts store.PostReader, limit int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		list, err := posts.LatestPosts(ctx, limit)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "No posts found yet.", nil
		}
		var b strings.Builder
		b.WriteString("Latest posts:")
		for _, p := range list {
			fmt.Fprintf(&b, "\n- %s (/blogs/%s)", p.Title, p.ID.Hex())
		}
		return b.String(), nil
	}
}
