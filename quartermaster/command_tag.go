package quartermaster

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleTagCommand executes a parsed /tag subcommand against the tag store
// and edits the deferred interaction response with the outcome. Expected
// outcomes (not found, not owner, validation) become plain user-facing
// messages; anything else is logged and replaced with the generic error
// message.
func (q *Quartermaster) handleTagCommand(
	ctx context.Context,
	handler InteractionHandler,
	req *TagRequest,
) {
	logger := handler.Logger().With(
		"subcommand", req.Subcommand,
		"tag_name", req.Name,
	)
	ctx = WithLogger(ctx, logger)

	i := handler.GetInteraction()
	user := getDiscordUser(i)
	if user == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}

	switch req.Subcommand {
	case tagSubcommandGet:
		tag, err := q.tags.Get(ctx, req.Name)
		if err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		q.editResponseContent(ctx, handler, tag.Content)
	case tagSubcommandAdd:
		_, err := q.tags.Add(
			ctx,
			req.Name,
			req.Content,
			user.ID,
			time.Now().UTC(),
		)
		if err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		q.editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Tag `%s` added.", req.Name),
		)
		q.reactToResponse(ctx, handler, tagAddReaction)
	case tagSubcommandEdit:
		_, err := q.tags.Edit(ctx, req.Name, req.Content, user.ID)
		if err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		q.editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Tag `%s` edited.", req.Name),
		)
	case tagSubcommandInfo:
		tag, err := q.tags.Stats(ctx, req.Name)
		if err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		embeds := []*discordgo.MessageEmbed{tagInfoEmbed(tag)}
		if _, editErr := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Embeds: &embeds},
		); editErr != nil {
			logger.ErrorContext(ctx, "error editing response", tint.Err(editErr))
		}
	case tagSubcommandDelete:
		if err := q.tags.Delete(ctx, req.Name, user.ID); err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		q.editResponseContent(
			ctx,
			handler,
			fmt.Sprintf("Tag `%s` deleted.", req.Name),
		)
	case tagSubcommandNewOwner:
		_, err := q.tags.ChangeOwner(ctx, req.Name, user.ID, req.NewOwnerID)
		if err != nil {
			q.editWithTagError(ctx, handler, req.Name, err)
			return
		}
		q.editResponseContent(
			ctx,
			handler,
			fmt.Sprintf(
				"Tag `%s` transferred to <@%s>.",
				req.Name,
				req.NewOwnerID,
			),
		)
	default:
		logger.WarnContext(ctx, "unknown tag subcommand")
		q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
	}
}

// tagInfoEmbed renders the /tag info response
func tagInfoEmbed(tag *Tag) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: tag.Name,
		Color: embedColorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Owner",
				Value:  fmt.Sprintf("<@%s>", tag.OwnerID),
				Inline: true,
			},
			{
				Name:   "Date Added",
				Value:  tag.FormattedDateAdded(),
				Inline: true,
			},
			{
				Name:   "Times Called",
				Value:  fmt.Sprintf("%d", tag.Called),
				Inline: true,
			},
		},
	}
}

// editWithTagError edits the deferred response with the user-facing
// message for an expected tag outcome, or the generic error message when
// the error indicates a persistence failure.
func (q *Quartermaster) editWithTagError(
	ctx context.Context,
	handler InteractionHandler,
	name string,
	err error,
) {
	msg := tagUserError(name, err)
	if msg == "" {
		handler.Logger().ErrorContext(ctx, "tag operation failed", tint.Err(err))
		msg = q.config.Discord.ErrorMessage
	}
	q.editResponseContent(ctx, handler, msg)
}

// editResponseContent edits the deferred interaction response to the
// given plain text content
func (q *Quartermaster) editResponseContent(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	content = truncate(content, discordMaxMessageLength)
	if _, err := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error editing response",
			tint.Err(err),
		)
	}
}

// reactToResponse adds an emoji reaction to the interaction's response
// message. Failures are logged and otherwise ignored.
func (q *Quartermaster) reactToResponse(
	ctx context.Context,
	handler InteractionHandler,
	emoji string,
) {
	msg, err := handler.GetResponse(ctx)
	if err != nil || msg == nil {
		return
	}
	if reactErr := q.discord.session.MessageReactionAdd(
		msg.ChannelID,
		msg.ID,
		emoji,
	); reactErr != nil {
		handler.Logger().WarnContext(
			ctx,
			"error adding reaction",
			tint.Err(reactErr),
		)
	}
}
