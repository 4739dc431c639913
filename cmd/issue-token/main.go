package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/safar/greenvillage/internal/auth"
	"github.com/safar/greenvillage/internal/config"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/models"
	"github.com/safar/greenvillage/internal/store"
)

func main() {
	email := flag.String("email", "", "user email (required)")
	name := flag.String("name", "", "display name used when the user is created")
	admin := flag.Bool("admin", false, "create the user as an admin")
	flag.Parse()

	if *email == "" {
		log.Fatal("Usage: issue-token -email user@example.com [-name Name] [-admin]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := store.GetUserByEmail(ctx, db, *email)
	if errors.Is(err, database.ErrUserNotFound) {
		role := models.RoleCustomer
		if *admin {
			role = models.RoleAdmin
		}
		displayName := *name
		if displayName == "" {
			displayName = *email
		}
		user, err = store.CreateUser(ctx, db, *email, displayName, role)
		if err == nil {
			log.Printf("Created %s user %d", user.Role, user.ID)
		}
	}
	if err != nil {
		log.Fatalf("Resolve user: %v", err)
	}

	token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(auth.Identity{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		log.Fatalf("Issue token: %v", err)
	}

	fmt.Println(token)
}
