package quartermaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/arcward/quartermaster/quartermaster.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var structValidator = validator.New()

//nolint:gochecknoinits // config validation reads the gin-style tag
func init() {
	structValidator.SetTagName("binding")
}

// Quartermaster is the main application struct. It wires together the
// Discord gateway session, the tag store, the OpenAI gateway proxy, the
// image classifier, and the optional status API.
type Quartermaster struct {
	config *Config

	// gorm.DB wrapper. When using sqlite, writes are serialized
	// behind a mutex.
	db DBI

	tags       *TagStore
	openai     *OpenAI
	classifier *Classifier
	discord    *Discord
	api        *API

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once startup is complete: the
	// database is migrated, the discord session is open, and commands
	// are registered
	signalReady chan struct{}

	// A signal is sent on this channel when [Quartermaster.shutdown]
	// finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// getInteractionHandlerFunc returns the InteractionHandler used for
	// an incoming interaction. Swappable for testing.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a Quartermaster instance from the given config. Loggers are
// initialized here; database and discord connections wait until
// [Quartermaster.Run].
func New(config *Config) (*Quartermaster, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	q := &Quartermaster{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	q.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     q.config.LogLevel,
			AddSource: true,
		},
	)
	q.logger = slog.New(q.logHandler)
	slog.SetDefault(q.logger)

	q.openai = newOpenAI(q.config.OpenAI, q.config.HTTPClient)
	q.classifier = newClassifier(q.config.Classifier, q.config.HTTPClient)

	q.config.Discord.httpClient = q.config.HTTPClient
	disc := newDiscord(q.config.Discord)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     q.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     q.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	q.discord = disc

	q.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     q.discord.session,
			interaction: i,
			logger:      q.discord.logger,
		}
	}

	if config.API.Enabled {
		api, err := newAPI(q, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		q.api = api
	}

	return q, errors.Join(errs...)
}

func (q *Quartermaster) ValidateConfig() error {
	return structValidator.Struct(q.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// discord bulk overwrite endpoint.
func (q *Quartermaster) RegisterSlashCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return q.discord.registerCommands(options...)
}

// Run starts the bot and blocks until the given context is canceled or a
// stop signal is received, then shuts down gracefully within
// [Config.ShutdownTimeout].
func (q *Quartermaster) Run(ctx context.Context) error {
	// prevents concurrent runs
	q.runMu.Lock()
	defer q.runMu.Unlock()

	q.signalStop = make(chan struct{}, 1)
	q.startedAt = time.Now()
	logger := q.logger

	if err := q.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", q.config))

	if q.signalReady == nil {
		q.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-q.signalStop:
			q.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			q.logger.Warn("context canceled, sending stop signal")
			q.signalStop <- struct{}{}
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, q.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- q.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
	}

	if q.api != nil {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			httpErr := q.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				q.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := q.discordInit(ctx, runtimeWG); err != nil {
		return err
	}

	q.signalReady <- struct{}{}
	q.logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return q.shutdown(runtimeWG)
}

// initRun initializes the database connection, migrates the schema, and
// wires the tag store.
func (q *Quartermaster) initRun(ctx context.Context) error {
	db, err := CreateDB(
		ctx,
		q.config.DatabaseType,
		q.config.Database,
		newTintHandler(q.config.DatabaseLogLevel),
		q.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	// sqlite enforces a single writer; postgres can write concurrently
	q.db = NewDatabase(
		db,
		q.logger,
		q.config.DatabaseType == dbTypePostgres,
	)
	q.tags = NewTagStore(q.db, q.logger)
	return nil
}

// discordInit opens the discord websocket connection, registers the bot's
// slash commands, and adds the gateway event handlers.
func (q *Quartermaster) discordInit(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	session, err := q.discord.newSession()
	if err != nil {
		return err
	}
	q.discord.session = session

	q.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(q.discord.handlerReady()),
		session.AddHandler(q.discord.handlerConnect()),
		session.AddHandler(q.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					handlerCtx := WithLogger(ctx, q.discord.logger)
					defer func() {
						if rc := recover(); rc != nil {
							q.logPanic(handlerCtx, rc)
						}
					}()
					q.handleInteraction(
						handlerCtx,
						q.getInteractionHandlerFunc(handlerCtx, i),
					)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					handlerCtx := WithLogger(ctx, q.discord.logger)
					defer func() {
						if rc := recover(); rc != nil {
							q.logPanic(handlerCtx, rc)
						}
					}()
					q.handleDiscordMessage(handlerCtx, m)
				}()
			},
		),
	}

	q.logger.InfoContext(ctx, "connecting to discord")
	if err = session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err = q.RegisterSlashCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	return nil
}

func (q *Quartermaster) shutdown(runtimeWG *sync.WaitGroup) error {
	q.logger.Warn("shutting down")
	defer func() {
		if q.eventShutdown != nil {
			go func() {
				q.eventShutdown <- struct{}{}
			}()
		}
	}()

	closeCtx, closeCancel := context.WithTimeout(
		context.Background(),
		q.config.ShutdownTimeout,
	)
	defer closeCancel()

	for _, removeHandler := range q.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}
	if q.discord.session != nil {
		if err := q.discord.session.Close(); err != nil {
			q.logger.Error("error closing discord session", tint.Err(err))
		}
	}

	// Graceful shutdown - at least until closeCtx is closed
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		gracefulShutdownCh <- struct{}{}
	}()

	select {
	case <-gracefulShutdownCh:
		q.logger.Info("shutdown complete")
		q.closeDB()
		return nil
	case <-closeCtx.Done():
		q.logger.Warn("shutdown deadline exceeded")
		q.closeDB()
		return fmt.Errorf("shutdown deadline exceeded")
	}
}

func (q *Quartermaster) closeDB() {
	if q.db == nil {
		return
	}
	sqlDB, err := q.db.DB().DB()
	if err != nil {
		q.logger.Error("error getting sql.DB", tint.Err(err))
		return
	}
	if err = sqlDB.Close(); err != nil {
		q.logger.Error("error closing database", tint.Err(err))
	}
}

func (q *Quartermaster) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = q.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

func (q *Quartermaster) logPanic(ctx context.Context, rc any) {
	q.logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", string(debug.Stack()),
	)
}

// handleInteraction processes an incoming Discord interaction: it logs
// the interaction, acknowledges application commands with a deferred
// response, and dispatches to the per-command handlers.
func (q *Quartermaster) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	if i.Type == discordgo.InteractionPing {
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		slog.Group("user", userLogAttrs(*discordUser)...),
	)

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := q.db.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		logger.WarnContext(ctx, "unexpected interaction type, ignoring")
		return
	}

	commandName := i.ApplicationCommandData().Name

	if i.GuildID == "" {
		// all commands are guild-only - registration restricts them to
		// guild contexts, but don't rely on that alone
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: DefaultDiscordGuildOnlyMessage,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			},
		)
		return
	}

	if err = handler.Respond(ctx, q.discord.ackResponse()); err != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(err))
		return
	}

	switch commandName {
	case DiscordSlashCommandTag:
		req, reqErr := newTagRequest(i)
		if reqErr != nil {
			logger.ErrorContext(ctx, "error parsing tag command", tint.Err(reqErr))
			q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
			return
		}
		q.handleTagCommand(ctx, handler, req)
	case DiscordSlashCommandImagine:
		req, reqErr := newImagineRequest(i)
		if reqErr != nil {
			logger.ErrorContext(ctx, "error parsing imagine command", tint.Err(reqErr))
			q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
			return
		}
		q.handleImagineCommand(ctx, handler, req)
	case DiscordSlashCommandDescribe:
		req, reqErr := newDescribeRequest(i)
		if reqErr != nil {
			logger.ErrorContext(ctx, "error parsing describe command", tint.Err(reqErr))
			q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
			return
		}
		q.handleDescribeCommand(ctx, handler, req)
	default:
		logger.WarnContext(ctx, "unknown command", "command", commandName)
		q.editResponseContent(ctx, handler, q.config.Discord.ErrorMessage)
	}
}

// handleDiscordMessage replies to messages that mention only the bot,
// using the chat-completion gateway. All other messages are ignored.
func (q *Quartermaster) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := q.getLogger(ctx)

	if m.MentionEveryone {
		return
	}

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil {
		logger.WarnContext(ctx, "couldn't find user in discord message")
		return
	}
	if user.Bot || user.ID == q.config.Discord.ApplicationID {
		return
	}
	if !messageMentionsUser(m.Message, q.config.Discord.ApplicationID) {
		return
	}

	content := stripMentions(m.Content, q.config.Discord.ApplicationID)
	if content == "" {
		return
	}

	logger = logger.With(
		slog.Group("user", userLogAttrs(*user)...),
		"channel_id", m.ChannelID,
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "replying to mention", "content", content)

	if typingErr := q.discord.session.ChannelTyping(m.ChannelID); typingErr != nil {
		logger.WarnContext(ctx, "error sending typing indicator", tint.Err(typingErr))
	}

	reply, err := q.openai.ChatReply(ctx, displayName(user), content)
	if err != nil {
		logger.ErrorContext(ctx, "chat completion failed", tint.Err(err))
		reply = q.config.Discord.ErrorMessage
	}

	if _, sendErr := q.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		truncate(reply, discordMaxMessageLength),
		m.Reference(),
	); sendErr != nil {
		logger.ErrorContext(ctx, "error sending reply", tint.Err(sendErr))
	}
}
