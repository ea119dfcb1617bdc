package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	_ "go.uber.org/automaxprocs"

	"zimage/comfyui"
	"zimage/discord"
	"zimage/enhance"
	"zimage/generation"
	"zimage/httpapi"
	"zimage/logger"
	"zimage/settings"
	"zimage/store"
	"zimage/workflow"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the config file")
	oneShot := flag.String("prompt", "", "generate a single image for this prompt and exit")
	output := flag.String("o", "output.png", "output file for -prompt mode")
	flag.Parse()

	cfg, err := settings.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	templates, err := workflow.Load(cfg.Generation.TemplateDir)
	if err != nil {
		logger.Fatal("Failed to load workflow templates", "error", err)
	}

	engine := comfyui.New(cfg.Engine)

	var recorder generation.Recorder
	var db *store.Store
	if cfg.Store.Path != "" {
		db, err = store.Open(cfg.Store.Path)
		if err != nil {
			logger.Fatal("Failed to open store", "path", cfg.Store.Path, "error", err)
		}
		defer db.Close()
		recorder = db
	}

	var enhancer generation.Enhancer
	if cfg.Gemini.ApiKey != "" {
		enhancer = enhance.NewGemini(cfg.Gemini)
	}

	svc := generation.New(cfg.Generation, cfg.Engine, templates, engine, enhancer, recorder)

	if *oneShot != "" {
		os.Exit(runOnce(svc, *oneShot, *output))
	}

	api := httpapi.New(cfg.Server, cfg.Generation, svc, engine)
	go func() {
		if err := api.Start(); err != nil {
			logger.Fatal("HTTP API failed", "error", err)
		}
	}()

	var bot *discord.Bot
	if cfg.Discord.Enabled {
		bot, err = discord.New(cfg.Discord, cfg.Generation, cfg.Engine, svc, engine)
		if err != nil {
			logger.Fatal("Failed to create discord bot", "error", err)
		}
		if err := bot.Start(); err != nil {
			logger.Fatal("Failed to start discord bot", "error", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	if bot != nil {
		bot.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := api.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
}

// runOnce drives a single generation from the command line, with a terminal
// progress bar fed by the engine's push events.
func runOnce(svc *generation.Service, prompt, output string) int {
	var bar *progressbar.ProgressBar

	req := generation.Request{
		Prompt: prompt,
		Seed:   generation.RandomSeed(),
		UserID: "cli",
		Source: "cli",
		Progress: func(value, max int) {
			if bar == nil {
				bar = progressbar.NewOptions(max,
					progressbar.OptionSetDescription("generating"),
					progressbar.OptionShowCount(),
				)
			}
			_ = bar.Set(value)
		},
	}

	img, err := svc.Generate(context.Background(), req)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		genErr := generation.AsError(err)
		fmt.Fprintf(os.Stderr, "generation failed (%s): %s\n", genErr.Code, genErr.Message)
		return 1
	}

	if err := os.WriteFile(output, img.Data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", output, err)
		return 1
	}
	fmt.Printf("wrote %s (%d bytes, seed %d)\n", output, len(img.Data), img.Seed)
	return 0
}
