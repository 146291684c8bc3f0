package quartermaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	AppID         string `json:"application_id" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	CommandName   string `json:"command_name" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Payload:       string(p),
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		interactionLog.CommandName = i.ApplicationCommandData().Name
	}
	return interactionLog, nil
}

// InteractionHandler defines the interface for responding to Discord
// interactions. Implementations wrap the discord session; the indirection
// exists so command handlers can be tested without a gateway connection.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetResponse retrieves the current response for an interaction.
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions received
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetResponse(ctx context.Context) (
	*discordgo.Message,
	error,
) {
	msg, err := w.session.InteractionResponse(
		w.interaction.Interaction,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error getting interaction", tint.Err(err))
	}
	return msg, err
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
		w.logger.InfoContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// discordInteractionOptions returns a map of the interaction's top-level
// options, where the keys are the option names and the values are the
// corresponding option data.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// ImagineRequest is a parsed /imagine command
type ImagineRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	Style  string `json:"style"`
}

func newImagineRequest(i *discordgo.InteractionCreate) (*ImagineRequest, error) {
	optionMap := discordInteractionOptions(i)
	promptOpt, ok := optionMap[imagineOptionPrompt]
	if !ok {
		return nil, errors.New("interaction missing prompt option")
	}
	req := &ImagineRequest{
		Prompt: strings.TrimSpace(promptOpt.StringValue()),
		Size:   string(defaultImageSize),
		Style:  string(defaultImageStyle),
	}
	if opt, found := optionMap[imagineOptionSize]; found {
		req.Size = opt.StringValue()
	}
	if opt, found := optionMap[imagineOptionStyle]; found {
		req.Style = opt.StringValue()
	}
	return req, nil
}

// DescribeRequest is a parsed /describe command. The attachment comes from
// the interaction's resolved data.
type DescribeRequest struct {
	Attachment *discordgo.MessageAttachment `json:"attachment"`
}

func newDescribeRequest(i *discordgo.InteractionCreate) (*DescribeRequest, error) {
	optionMap := discordInteractionOptions(i)
	photoOpt, ok := optionMap[describeOptionPhoto]
	if !ok {
		return nil, errors.New("interaction missing photo option")
	}
	attachmentID, ok := photoOpt.Value.(string)
	if !ok {
		return nil, errors.New("photo option is not an attachment reference")
	}
	resolved := i.ApplicationCommandData().Resolved
	if resolved == nil {
		return nil, errors.New("interaction has no resolved data")
	}
	attachment, ok := resolved.Attachments[attachmentID]
	if !ok || attachment == nil {
		return nil, errors.New("attachment not found in resolved data")
	}
	return &DescribeRequest{Attachment: attachment}, nil
}

// TagRequest is a parsed /tag subcommand. Fields not used by the given
// subcommand are left empty.
type TagRequest struct {
	Subcommand string `json:"subcommand"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	NewOwnerID string `json:"new_owner_id"`
}

func newTagRequest(i *discordgo.InteractionCreate) (*TagRequest, error) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return nil, errors.New("interaction missing subcommand")
	}
	sub := options[0]
	if sub.Type != discordgo.ApplicationCommandOptionSubCommand {
		return nil, fmt.Errorf("unexpected option type: %s", sub.Type)
	}

	req := &TagRequest{Subcommand: sub.Name}
	for _, opt := range sub.Options {
		switch opt.Name {
		case tagOptionName:
			req.Name = strings.TrimSpace(opt.StringValue())
		case tagOptionContent:
			req.Content = opt.StringValue()
		case tagOptionNewOwner:
			if u := opt.UserValue(nil); u != nil {
				req.NewOwnerID = u.ID
			}
		}
	}
	if req.Name == "" {
		return nil, errors.New("interaction missing tag name")
	}
	return req, nil
}
