package notify

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	discordBaseBackoff = time.Second
	discordMaxBackoff  = 30 * time.Second
)

// discordClient abstracts the discordgo methods we use.
type discordClient interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts summaries to a Discord channel over the REST API. No gateway
// connection is opened.
type Discord struct {
	client      discordClient
	channelID   string
	baseBackoff time.Duration
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock client instead of a real session.
	Client discordClient
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	client := opts.Client
	if client == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		client = s
	}
	return &Discord{client: client, channelID: opts.ChannelID, baseBackoff: discordBaseBackoff}, nil
}

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, sum Summary) error {
	data := &discordgo.MessageSend{
		Content: sum.Title,
		Embeds:  []*discordgo.MessageEmbed{summaryEmbed(sum)},
	}
	err := d.retryOnRateLimit(ctx, func() error {
		_, sendErr := d.client.ChannelMessageSendComplex(d.channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func summaryEmbed(sum Summary) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       sum.Title,
		Description: sum.Body,
		Color:       parseHexColor(sum.Color),
		Footer:      &discordgo.MessageEmbedFooter{Text: "job " + sum.JobID},
	}
	for _, f := range sum.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short})
	}
	for _, c := range sum.Contractors {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  c.Name,
			Value: fmt.Sprintf("%.1f (%d reviews) [%s](%s)", c.Rating, c.ReviewCount, c.Platform, c.ProfileURL),
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit retries fn with exponential backoff on HTTP 429.
func (d *Discord) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := min(time.Duration(math.Pow(2, float64(attempt)))*d.baseBackoff, discordMaxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
