// Package discord exposes the generation service as slash commands. Like
// the HTTP facade it only translates: options in, attachment or taxonomy
// message out.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"

	"zimage/generation"
	"zimage/logger"
	"zimage/settings"
)

// Generator is the slice of the generation service this facade needs.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Image, error)
	Templates() []string
}

// HealthChecker reports whether the external engine is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Bot struct {
	session  *discordgo.Session
	svc      Generator
	engine   HealthChecker
	cfg      settings.DiscordConfig
	gen      settings.GenerationConfig
	timeout  time.Duration
	started  time.Time
	log      *slog.Logger
	commands []*discordgo.ApplicationCommand
}

func New(cfg settings.DiscordConfig, gen settings.GenerationConfig, engineCfg settings.EngineConfig, svc Generator, engine HealthChecker) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	b := &Bot{
		session: session,
		svc:     svc,
		engine:  engine,
		cfg:     cfg,
		gen:     gen,
		timeout: time.Duration(engineCfg.TimeoutSeconds)*time.Second + 30*time.Second,
		started: time.Now(),
		log:     logger.Service("discord"),
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

// Start opens the gateway session and registers the slash commands.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	defs := commandDefinitions(b.gen)
	for _, def := range defs {
		cmd, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, b.cfg.GuildID, def)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", def.Name, err)
		}
		b.commands = append(b.commands, cmd)
	}

	b.log.Info("Discord bot running", "commands", len(b.commands), "guild", b.cfg.GuildID)
	return nil
}

// Close deregisters the commands and closes the session.
func (b *Bot) Close() {
	for _, cmd := range b.commands {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.log.Warn("Failed to delete command", "command", cmd.Name, "error", err)
		}
	}
	if err := b.session.Close(); err != nil {
		b.log.Warn("Failed to close discord session", "error", err)
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("Connected to Discord", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	switch i.ApplicationCommandData().Name {
	case "generate":
		b.handleGenerate(s, i)
	case "status":
		b.handleStatus(s, i)
	case "help":
		b.handleHelp(s, i)
	}
}

func (b *Bot) handleGenerate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// Discord demands an acknowledgement within 3 seconds; generation
	// takes far longer, so defer and follow up.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		b.log.Error("Failed to defer interaction", "error", err)
		return
	}

	req := requestFromOptions(i.ApplicationCommandData().Options)
	req.UserID = interactionUserID(i)
	req.Source = "discord"

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		img, err := b.svc.Generate(ctx, req)
		if err != nil {
			genErr := generation.AsError(err)
			b.log.Error("Generation failed", "code", genErr.Code, "error", err, "user", req.UserID)
			b.followupError(s, i, genErr)
			return
		}

		filename := "generated." + extensionFor(img.ContentType)
		embed := &discordgo.MessageEmbed{
			Title:       "🎨 Image Generated",
			Description: truncate(req.Prompt, 200),
			Color:       0x00ff00,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Steps", Value: fmt.Sprintf("%d", req.Steps), Inline: true},
				{Name: "Resolution", Value: fmt.Sprintf("%dx%d", req.Width, req.Height), Inline: true},
				{Name: "Seed", Value: fmt.Sprintf("%d", img.Seed), Inline: true},
			},
			Image: &discordgo.MessageEmbedImage{URL: "attachment://" + filename},
		}

		_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{embed},
			Files: []*discordgo.File{{
				Name:        filename,
				ContentType: img.ContentType,
				Reader:      bytes.NewReader(img.Data),
			}},
		})
		if err != nil {
			b.log.Error("Failed to post image", "error", err)
		}
	}()
}

func (b *Bot) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engineState := "🟢 connected"
	if err := b.engine.Health(ctx); err != nil {
		engineState = "⚫ unreachable"
	}
	uptime := durafmt.Parse(time.Since(b.started).Round(time.Second)).LimitFirstN(2).String()

	b.respond(s, i, fmt.Sprintf("**Bot:** 🟢 online (up %s)\n**Engine:** %s", uptime, engineState))
}

func (b *Bot) handleHelp(s *discordgo.Session, i *discordgo.InteractionCreate) {
	embed := &discordgo.MessageEmbed{
		Title:       "🤖 zimage",
		Description: "Image generation via the attached rendering engine",
		Color:       0x0099ff,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "/generate",
				Value: fmt.Sprintf("Generate an image.\n"+
					"`prompt` (required), `negative_prompt`, "+
					"`width`/`height` (%d–%d), `steps` (1–%d), "+
					"`seed` (-1 for random), `enhance`, `template`",
					b.gen.MinSize, b.gen.MaxSize, b.gen.MaxSteps),
			},
			{Name: "/status", Value: "Bot and engine health"},
			{Name: "/help", Value: "This message"},
		},
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}},
	}); err != nil {
		b.log.Error("Failed to respond to help", "error", err)
	}
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	}); err != nil {
		b.log.Error("Failed to respond to interaction", "error", err)
	}
}

func (b *Bot) followupError(s *discordgo.Session, i *discordgo.InteractionCreate, genErr *generation.Error) {
	content := "⚠️ " + genErr.Message
	if genErr.Retryable() {
		content += " (worth retrying)"
	}
	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content}); err != nil {
		b.log.Error("Failed to post error followup", "error", err)
	}
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
