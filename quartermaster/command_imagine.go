package quartermaster

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleImagineCommand generates an image for a parsed /imagine command and
// edits the deferred interaction response with the result embed. Generated
// image URLs expire upstream, so the embed carries a download link button
// and an expiry note in the footer.
func (q *Quartermaster) handleImagineCommand(
	ctx context.Context,
	handler InteractionHandler,
	req *ImagineRequest,
) {
	logger := handler.Logger().With(
		"prompt", req.Prompt,
		"size", req.Size,
		"style", req.Style,
	)
	ctx = WithLogger(ctx, logger)

	user := getDiscordUser(handler.GetInteraction())
	if user == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}

	img, err := q.openai.GenerateImage(
		ctx,
		req.Prompt,
		req.Size,
		req.Style,
		user.Username,
	)
	if err != nil {
		if errors.Is(err, ErrProhibitedPrompt) {
			q.editResponseContent(
				ctx,
				handler,
				"Your prompt contains a banned word.",
			)
			return
		}
		logger.ErrorContext(ctx, "image generation failed", tint.Err(err))
		q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
		return
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title:       "Result for your prompt",
			Color:       embedColorBlurple,
			Description: fmt.Sprintf("```%s```", req.Prompt),
			Image:       &discordgo.MessageEmbedImage{URL: img.URL},
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf(
					"Took %.2fs - %s",
					img.Elapsed.Seconds(),
					img.ExpiresNote(),
				),
			},
		},
	}
	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label: "Download your image here!",
					Style: discordgo.LinkButton,
					URL:   img.URL,
				},
			},
		},
	}
	if _, editErr := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{
			Embeds:     &embeds,
			Components: &components,
		},
	); editErr != nil {
		logger.ErrorContext(ctx, "error editing response", tint.Err(editErr))
	}
}
