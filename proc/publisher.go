package proc

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

var ErrChannelNotFound = errors.New("channel not found")

// Publisher is the slice of the platform API the bot writes through.
type Publisher interface {
	// ResolveChannel reports the guild owning the channel, or an error if it is unreachable.
	ResolveChannel(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error)
	Send(ctx context.Context, channelID snowflake.ID, panel Panel) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, panel Panel) error
}

type restPublisher struct {
	client *bot.Client
}

// NewRestPublisher writes through the client's REST API.
func NewRestPublisher(client *bot.Client) Publisher {
	return &restPublisher{client: client}
}

// ResolveChannel checks the cache first. Ready arrives before the guilds are streamed in, so a
// cache miss falls back to a REST lookup.
func (p *restPublisher) ResolveChannel(ctx context.Context, channelID snowflake.ID) (snowflake.ID, error) {
	if channelID == 0 {
		return 0, ErrChannelNotFound
	}
	if ch, ok := p.client.Caches.Channel(channelID); ok {
		return ch.GuildID(), nil
	}

	ch, err := p.client.Rest.GetChannel(channelID, rest.WithCtx(ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChannelNotFound, err)
	}
	type guildScoped interface{ GuildID() snowflake.ID }
	if gc, ok := ch.(guildScoped); ok {
		return gc.GuildID(), nil
	}
	return 0, nil
}

func (p *restPublisher) Send(ctx context.Context, channelID snowflake.ID, panel Panel) (MessageRef, error) {
	msg, err := p.client.Rest.CreateMessage(channelID, panel.MessageCreate(), rest.WithCtx(ctx))
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (p *restPublisher) Edit(ctx context.Context, ref MessageRef, panel Panel) error {
	_, err := p.client.Rest.UpdateMessage(ref.ChannelID, ref.MessageID, panel.MessageUpdate(), rest.WithCtx(ctx))
	return err
}
