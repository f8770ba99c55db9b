// The seeder applies the schema and inserts starter templates.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/bitpanel/notification-service/internal/config"
	"github.com/bitpanel/notification-service/internal/db"
	"github.com/bitpanel/notification-service/internal/logging"
	"github.com/bitpanel/notification-service/internal/model"
	"github.com/bitpanel/notification-service/internal/repository"
	"github.com/bitpanel/notification-service/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)

	conn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	schema, err := os.ReadFile("seed/schema.sql")
	if err != nil {
		log.Fatal().Err(err).Msg("schema read failed")
	}
	if _, err := conn.Exec(string(schema)); err != nil {
		log.Fatal().Err(err).Msg("schema apply failed")
	}
	log.Info().Msg("schema applied")

	templates := &service.TemplateService{
		Templates: &repository.PostgresTemplateRepository{DB: conn},
		Log:       log,
	}

	starters := []struct {
		name         string
		ttype        model.TemplateType
		title, body  string
		personalized bool
	}{
		{"Welcome", model.TemplateWelcome, "Hi {username}", "Welcome aboard, {username}! Your account is ready.", true},
		{"Deposit credited", model.TemplateAlert, "Deposit received", "You have {amount} USDT credited on {date}.", false},
		{"Weekend promo", model.TemplatePromotion, "Weekend bonus for {username}", "Trade before {date} and earn double points.", true},
		{"Task reminder", model.TemplateReminder, "Tasks expiring soon", "You have {count} tasks expiring on {date}.", false},
	}
	for _, s := range starters {
		t, err := templates.CreateTemplate(s.name, s.ttype, s.title, s.body, s.personalized)
		if err != nil {
			log.Fatal().Str("name", s.name).Err(err).Msg("template seed failed")
		}
		log.Info().Str("template_id", t.ID).Str("name", t.Name).Msg("seeded template")
	}

	recipients := []struct {
		id     string
		status string
		vip    bool
	}{
		{"alice", "active", true},
		{"bob", "active", false},
		{"carol", "active", false},
		{"dave", "inactive", false},
		{"erin", "active", true},
		{"frank", "inactive", false},
		{"grace", "active", false},
		{"heidi", "active", false},
	}
	for _, rec := range recipients {
		_, err := conn.Exec(
			`INSERT INTO recipients (id, status, vip) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			rec.id, rec.status, rec.vip,
		)
		if err != nil {
			log.Fatal().Str("recipient", rec.id).Err(err).Msg("recipient seed failed")
		}
	}
	log.Info().Int("recipients", len(recipients)).Msg("seeded demo recipients")

	log.Info().Msg("seeding complete")
}
