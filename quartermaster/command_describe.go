package quartermaster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleDescribeCommand downloads the attached image, classifies it, and
// edits the deferred interaction response with the label/score embed.
func (q *Quartermaster) handleDescribeCommand(
	ctx context.Context,
	handler InteractionHandler,
	req *DescribeRequest,
) {
	logger := handler.Logger().With(
		"attachment_url", req.Attachment.URL,
		"attachment_size", req.Attachment.Size,
	)
	ctx = WithLogger(ctx, logger)

	// Attachment metadata includes the size, so oversized uploads are
	// rejected without downloading anything.
	if req.Attachment.Size > maxClassifierImageBytes {
		q.editResponseContent(
			ctx,
			handler,
			"That image is too large to describe.",
		)
		return
	}

	started := time.Now()
	image, err := downloadAttachment(ctx, q.config.HTTPClient, req.Attachment.URL)
	if err != nil {
		logger.ErrorContext(ctx, "error downloading attachment", tint.Err(err))
		q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
		return
	}

	classifications, err := q.classifier.Classify(ctx, image)
	if err != nil {
		if errors.Is(err, ErrImageTooLarge) {
			q.editResponseContent(
				ctx,
				handler,
				"That image is too large to describe.",
			)
			return
		}
		logger.ErrorContext(ctx, "classification failed", tint.Err(err))
		q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
		return
	}

	embeds := []*discordgo.MessageEmbed{
		{
			Title:       "Description for your image",
			Color:       embedColorBlurple,
			Description: formatClassifications(classifications),
			Image:       &discordgo.MessageEmbedImage{URL: req.Attachment.URL},
			Footer: &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("Took %.2fs", time.Since(started).Seconds()),
			},
		},
	}
	if _, editErr := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Embeds: &embeds},
	); editErr != nil {
		logger.ErrorContext(ctx, "error editing response", tint.Err(editErr))
	}
}
