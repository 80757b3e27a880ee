package steward

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
)

// InteractionLog records every interaction received, by either the
// gateway or the webhook server. The user's ID is stored hashed, like
// every other member record.
//
//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	Method         DiscordInteractionReceiveMethod `json:"method" gorm:"type:string"`
	InteractionID  string                          `json:"interaction_id" gorm:"not null;index"`
	Type           string                          `json:"type" gorm:"type:string"`
	CommandName    string                          `json:"command_name" gorm:"type:string;index"`
	CustomID       string                          `json:"custom_id" gorm:"type:string"`
	HashedMemberID string                          `json:"hashed_member_id" gorm:"size:64;index"`
	GuildID        string                          `json:"guild_id" gorm:"type:string"`
	ChannelID      string                          `json:"channel_id" gorm:"type:string"`
	Context        string                          `json:"context" gorm:"type:string"`
	CreatedAt      int64                           `json:"created_at,omitempty" gorm:"autoCreateTime:milli;index"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	method DiscordInteractionReceiveMethod,
) *InteractionLog {
	il := &InteractionLog{
		Method:        method,
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Context:       i.Context.String(),
	}
	if u != nil {
		if hashed, err := hashDiscordID(u.ID); err == nil {
			il.HashedMemberID = hashed
		}
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand,
		discordgo.InteractionApplicationCommandAutocomplete:
		il.CommandName = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		il.CustomID = i.MessageComponentData().CustomID
	}
	return il
}

// InteractionHandler responds to a single interaction. Implementations
// differ in how the initial response is delivered (gateway REST call vs.
// webhook HTTP response body).
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies the initial response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes the initial response
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	// InteractionReceiveMethod reports whether the interaction arrived
	// via the gateway or the webhook server
	InteractionReceiveMethod() DiscordInteractionReceiveMethod

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] when receiving interactions
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (GatewayHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodGateway
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(
		w.interaction.Interaction,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
