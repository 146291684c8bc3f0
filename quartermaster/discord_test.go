package quartermaster

import (
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscord(t testing.TB) (*Discord, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	d := newDiscord(cfg.Discord)
	d.logger = slog.Default()
	session := &mockDiscordSession{}
	d.session = session
	return d, session
}

func TestRegisterCommands(t *testing.T) {
	d, session := newTestDiscord(t)

	created, err := d.registerCommands()
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, created, session.commands)

	names := make([]string, 0, len(created))
	for _, c := range created {
		names = append(names, c.Name)
	}
	assert.Equal(
		t,
		[]string{
			DiscordSlashCommandTag,
			DiscordSlashCommandImagine,
			DiscordSlashCommandDescribe,
		},
		names,
	)
}

func TestAppCommandTag(t *testing.T) {
	d, _ := newTestDiscord(t)
	cmd := d.appCommandTag()

	// guild-only
	require.NotNil(t, cmd.Contexts)
	assert.Equal(
		t,
		[]discordgo.InteractionContextType{discordgo.InteractionContextGuild},
		*cmd.Contexts,
	)

	require.Len(t, cmd.Options, 6)
	subcommands := make(map[string]*discordgo.ApplicationCommandOption, 6)
	for _, opt := range cmd.Options {
		assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, opt.Type)
		subcommands[opt.Name] = opt
	}
	for _, name := range []string{
		tagSubcommandGet,
		tagSubcommandAdd,
		tagSubcommandEdit,
		tagSubcommandInfo,
		tagSubcommandDelete,
		tagSubcommandNewOwner,
	} {
		assert.Contains(t, subcommands, name)
	}

	// name and content limits are enforced by discord itself
	add := subcommands[tagSubcommandAdd]
	require.Len(t, add.Options, 2)
	assert.Equal(t, TagNameMaxLength, add.Options[0].MaxLength)
	assert.Equal(t, TagContentMaxLength, add.Options[1].MaxLength)

	newOwner := subcommands[tagSubcommandNewOwner]
	require.Len(t, newOwner.Options, 2)
	assert.Equal(
		t,
		discordgo.ApplicationCommandOptionUser,
		newOwner.Options[1].Type,
	)
	assert.True(t, newOwner.Options[1].Required)
}

// TestAppCommandContexts pins every command to guild contexts only: tags
// are shared per server, and the AI commands aren't usable from DMs.
func TestAppCommandContexts(t *testing.T) {
	d, _ := newTestDiscord(t)

	for _, cmd := range []*discordgo.ApplicationCommand{
		d.appCommandTag(),
		d.appCommandImagine(),
		d.appCommandDescribe(),
	} {
		t.Run(
			cmd.Name, func(t *testing.T) {
				require.NotNil(t, cmd.Contexts)
				assert.Equal(
					t,
					[]discordgo.InteractionContextType{
						discordgo.InteractionContextGuild,
					},
					*cmd.Contexts,
				)
				require.NotNil(t, cmd.IntegrationTypes)
				assert.Equal(
					t,
					[]discordgo.ApplicationIntegrationType{
						discordgo.ApplicationIntegrationGuildInstall,
					},
					*cmd.IntegrationTypes,
				)
			},
		)
	}
}

func TestAppCommandImagine(t *testing.T) {
	d, _ := newTestDiscord(t)
	cmd := d.appCommandImagine()

	require.Len(t, cmd.Options, 3)
	assert.Equal(t, imagineOptionPrompt, cmd.Options[0].Name)
	assert.True(t, cmd.Options[0].Required)

	assert.Equal(t, imagineOptionSize, cmd.Options[1].Name)
	assert.Len(t, cmd.Options[1].Choices, 3)

	assert.Equal(t, imagineOptionStyle, cmd.Options[2].Name)
	assert.Len(t, cmd.Options[2].Choices, 2)
}

func TestHandlerConnect(t *testing.T) {
	d, session := newTestDiscord(t)
	d.config.CustomStatus = "/tag, /imagine, /describe"
	d.config.NotificationChannelID = "notify-channel"
	d.config.StartupMessage = "I'm here!"

	d.handlerConnect()(nil, nil)

	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, "/tag, /imagine, /describe", session.customStatus)
	assert.Equal(t, []string{"I'm here!"}, session.messagesSent)

	d.handlerDisconnect()(nil, nil)
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(
		t,
		"Alice",
		displayName(&discordgo.User{Username: "alice", GlobalName: "Alice"}),
	)
	assert.Equal(t, "alice", displayName(&discordgo.User{Username: "alice"}))
	assert.Equal(t, "", displayName(nil))
}

func TestMessageMentionsUser(t *testing.T) {
	msg := &discordgo.Message{
		Mentions: []*discordgo.User{{ID: "user-1"}, {ID: "user-2"}},
	}
	assert.True(t, messageMentionsUser(msg, "user-1"))
	assert.False(t, messageMentionsUser(msg, "user-3"))
	assert.False(t, messageMentionsUser(nil, "user-1"))
}

func TestGetDiscordUser(t *testing.T) {
	fromUser := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			User: &discordgo.User{ID: "dm-user"},
		},
	}
	require.NotNil(t, getDiscordUser(fromUser))
	assert.Equal(t, "dm-user", getDiscordUser(fromUser).ID)

	fromMember := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{ID: "guild-user"}},
		},
	}
	require.NotNil(t, getDiscordUser(fromMember))
	assert.Equal(t, "guild-user", getDiscordUser(fromMember).ID)

	assert.Nil(
		t,
		getDiscordUser(
			&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
		),
	)
}
