package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/quocanhngo/botdesk/internal/config"
	"github.com/quocanhngo/botdesk/internal/model"
	"github.com/quocanhngo/botdesk/internal/repository"
	"github.com/quocanhngo/botdesk/migrations"
	"github.com/quocanhngo/botdesk/pkg/identity"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const demoPassword = "password123"

type demoUser struct {
	name  string
	email string
}

// mixed spellings so the alias rules are visible in seeded data
var demoUsers = []demoUser{
	{"Ava Owner", "ava.owner@gmail.com"},
	{"Ben Support", "ben.support+botdesk@googlemail.com"},
	{"Chi Agency", "chi@agency.example"},
	{"Dana Shop", "dana@shop.example"},
	{"Eli Studio", "Eli.Studio@Example.com"},
}

func main() {
	migrate := flag.Bool("migrate", false, "apply pending migrations before seeding")
	rollback := flag.Bool("rollback", false, "revert the last migration and exit without seeding")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()

	if *rollback {
		if err := migrations.Rollback(cfg.DB.URL(), logger); err != nil {
			logger.Fatal("❌ rollback failed", zap.Error(err))
		}
		return
	}

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal("❌ failed to connect to database", zap.Error(err))
	}
	logger.Info("✅ connected to database")

	if *migrate {
		if err := migrations.Apply(db, cfg.DB.URL(), logger); err != nil {
			logger.Fatal("❌ migration failed", zap.Error(err))
		}
	}

	rules, err := identity.ParseRules(cfg.Identity.AliasRules)
	if err != nil {
		logger.Fatal("❌ invalid IDENTITY_ALIAS_RULES", zap.Error(err))
	}
	normalizer := identity.NewNormalizer(rules)

	hashed, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		logger.Fatal("❌ failed to hash password", zap.Error(err))
	}

	users := repository.NewUserRepository(db)
	ctx := context.Background()

	logger.Info("🌱 seeding demo accounts", zap.Int("count", len(demoUsers)))
	created := 0
	for _, d := range demoUsers {
		now := time.Now()
		user, isNew, err := users.FindOrCreate(ctx, &model.User{
			Name:            d.name,
			Email:           d.email,
			NormalizedEmail: normalizer.Canonical(d.email),
			Password:        string(hashed),
			AuthProvider:    model.AuthProviderEmail,
			Plan:            model.PlanFree,
			EmailVerifiedAt: &now,
			Avatar:          fmt.Sprintf("https://api.dicebear.com/7.x/initials/svg?seed=%s", d.name),
		})
		if err != nil {
			logger.Error("❌ failed to seed user", zap.String("email", d.email), zap.Error(err))
			continue
		}
		if !isNew {
			logger.Info("🔄 already present", zap.String("email", user.Email), zap.String("normalized", user.NormalizedEmail))
			continue
		}
		created++
		logger.Info("✅ created user",
			zap.String("email", user.Email),
			zap.String("normalized", user.NormalizedEmail),
		)
	}

	logger.Info("🎉 seeding completed", zap.Int("created", created), zap.String("password", demoPassword))
}
