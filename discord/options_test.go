package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"zimage/settings"
)

// Interaction option values arrive JSON-decoded, so integers are float64.
func opt(name string, typ discordgo.ApplicationCommandOptionType, value any) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: typ, Value: value}
}

func TestRequestFromOptions(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		opt("prompt", discordgo.ApplicationCommandOptionString, "a red apple"),
		opt("negative_prompt", discordgo.ApplicationCommandOptionString, "blurry"),
		opt("width", discordgo.ApplicationCommandOptionInteger, float64(768)),
		opt("height", discordgo.ApplicationCommandOptionInteger, float64(512)),
		opt("steps", discordgo.ApplicationCommandOptionInteger, float64(4)),
		opt("seed", discordgo.ApplicationCommandOptionInteger, float64(42)),
		opt("enhance", discordgo.ApplicationCommandOptionBoolean, true),
		opt("template", discordgo.ApplicationCommandOptionString, "turbo"),
	}

	req := requestFromOptions(opts)

	if req.Prompt != "a red apple" || req.NegativePrompt != "blurry" {
		t.Errorf("prompts = %q / %q", req.Prompt, req.NegativePrompt)
	}
	if req.Width != 768 || req.Height != 512 || req.Steps != 4 {
		t.Errorf("dimensions = %dx%d steps %d", req.Width, req.Height, req.Steps)
	}
	if req.Seed.Random || req.Seed.Value != 42 {
		t.Errorf("seed = %+v, want fixed 42", req.Seed)
	}
	if !req.Enhance || req.Template != "turbo" {
		t.Errorf("enhance = %v template = %q", req.Enhance, req.Template)
	}
}

func TestRequestFromOptionsDefaults(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		opt("prompt", discordgo.ApplicationCommandOptionString, "just a prompt"),
	}

	req := requestFromOptions(opts)

	if !req.Seed.Random {
		t.Error("absent seed should be random")
	}
	if req.Width != 0 || req.Height != 0 || req.Steps != 0 {
		t.Error("absent dimensions should stay zero for service defaults")
	}
}

func TestRequestFromOptionsNegativeSeed(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		opt("prompt", discordgo.ApplicationCommandOptionString, "x"),
		opt("seed", discordgo.ApplicationCommandOptionInteger, float64(-1)),
	}

	if req := requestFromOptions(opts); !req.Seed.Random {
		t.Error("seed -1 should be random")
	}
}

func TestCommandDefinitionsCarryConfiguredBounds(t *testing.T) {
	defs := commandDefinitions(settings.GenerationConfig{MinSize: 512, MaxSize: 2048, MaxSteps: 20})

	var generate *discordgo.ApplicationCommand
	for _, def := range defs {
		if def.Name == "generate" {
			generate = def
		}
	}
	if generate == nil {
		t.Fatal("no generate command defined")
	}

	for _, o := range generate.Options {
		switch o.Name {
		case "width", "height":
			if o.MinValue == nil || *o.MinValue != 512 || o.MaxValue != 2048 {
				t.Errorf("%s bounds = %v..%v", o.Name, o.MinValue, o.MaxValue)
			}
		case "steps":
			if o.MaxValue != 20 {
				t.Errorf("steps max = %v, want 20", o.MaxValue)
			}
		case "prompt":
			if !o.Required {
				t.Error("prompt should be required")
			}
		}
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/png":  "png",
		"image/jpeg": "jpg",
		"image/webp": "webp",
		"image/gif":  "gif",
		"":           "png",
	}
	for contentType, want := range cases {
		if got := extensionFor(contentType); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", contentType, got, want)
		}
	}
}
