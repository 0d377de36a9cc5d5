package main

import (
	"log"
	"os"

	"chatbi/internal/api"
	"chatbi/internal/audit"
	"chatbi/internal/config"
	"chatbi/internal/database"
	"chatbi/internal/delivery"
	"chatbi/internal/directory"
	"chatbi/internal/engine"
	"chatbi/internal/notify"
	"chatbi/internal/render"
	"chatbi/internal/schedule"
	"chatbi/internal/template"

	"github.com/rs/zerolog"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize database
	if err := database.Initialize(cfg.Database.Path); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	db := database.GetDB()

	// Seed the directory on first boot
	if err := directory.Seed(db); err != nil {
		log.Printf("Warning: Failed to seed directory: %v", err)
	}

	auditLog := audit.NewLogger(db, logger)
	dir := directory.NewGormDirectory(db)
	resolver := directory.NewResolver(dir)

	templates := template.NewRegistry(db, auditLog)
	schedules := schedule.NewStore(db, resolver, auditLog, cfg.Org)

	renderer := render.NewHTMLRenderer(cfg.Engine.ArtifactBaseURL, cfg.Engine.AttachmentMaxBytes, nil)
	mailer := delivery.NewMailer(cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.From, cfg.Email.Password)
	notifier := notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel)

	eng := engine.New(db, schedules, resolver, renderer, mailer, notifier, auditLog, engine.Config{
		Workers:             cfg.Engine.Workers,
		PollInterval:        cfg.Engine.PollInterval(),
		DeliveryMaxAttempts: cfg.Engine.DeliveryMaxAttempts,
	}, logger)

	eng.Start()
	defer eng.Stop()

	// Initialize and start API server
	server := api.NewServer(db, templates, schedules, eng, auditLog, dir)
	if err := server.Start(cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
