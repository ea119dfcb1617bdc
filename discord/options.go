package discord

import (
	"github.com/bwmarrin/discordgo"

	"zimage/generation"
	"zimage/settings"
)

func commandDefinitions(gen settings.GenerationConfig) []*discordgo.ApplicationCommand {
	minSize := float64(gen.MinSize)
	minSteps := float64(1)

	return []*discordgo.ApplicationCommand{
		{
			Name:        "generate",
			Description: "Generate an image from a text prompt",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "prompt",
					Description: "What to draw",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "negative_prompt",
					Description: "What to avoid",
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "width",
					Description: "Image width in pixels (multiple of 8)",
					MinValue:    &minSize,
					MaxValue:    float64(gen.MaxSize),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "height",
					Description: "Image height in pixels (multiple of 8)",
					MinValue:    &minSize,
					MaxValue:    float64(gen.MaxSize),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "steps",
					Description: "Sampling steps",
					MinValue:    &minSteps,
					MaxValue:    float64(gen.MaxSteps),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seed",
					Description: "Seed for reproducible output (-1 or omit for random)",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enhance",
					Description: "Rewrite the prompt with an LLM before generating",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "template",
					Description: "Workflow template to use",
				},
			},
		},
		{
			Name:        "status",
			Description: "Show bot and engine health",
		},
		{
			Name:        "help",
			Description: "Show usage",
		},
	}
}

// requestFromOptions maps slash-command options onto a generation request.
// Absent options are left zero for the service to fill with defaults.
func requestFromOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) generation.Request {
	req := generation.Request{Seed: generation.RandomSeed()}

	for _, opt := range opts {
		switch opt.Name {
		case "prompt":
			req.Prompt = opt.StringValue()
		case "negative_prompt":
			req.NegativePrompt = opt.StringValue()
		case "width":
			req.Width = int(opt.IntValue())
		case "height":
			req.Height = int(opt.IntValue())
		case "steps":
			req.Steps = int(opt.IntValue())
		case "seed":
			req.Seed = generation.SeedFromWire(opt.IntValue())
		case "enhance":
			req.Enhance = opt.BoolValue()
		case "template":
			req.Template = opt.StringValue()
		}
	}

	return req
}
