// Command admin_token applies the schema and mints an admin access token for
// operating the API outside the normal identity provider.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"paybroker/internal/config"
	"paybroker/internal/models"
	"paybroker/internal/repositories"
	"paybroker/internal/utils"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply the database schema before issuing the token")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	config.LoadEnv()
	cfg := config.Load()

	adminID := os.Getenv("ADMIN_USER_ID")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminID == "" || adminEmail == "" {
		log.Fatal("ADMIN_USER_ID and ADMIN_EMAIL must be set in environment")
	}

	if *migrate {
		db, err := repositories.NewPostgres(cfg.DB)
		if err != nil {
			log.Fatal("Failed to connect to database: ", err)
		}
		defer func() {
			if err := repositories.Close(db); err != nil {
				log.Printf("Failed to close database connection: %v", err)
			}
		}()
		if err := repositories.Migrate(db); err != nil {
			log.Fatal("Failed to migrate database: ", err)
		}
		log.Println("Database schema is up to date")
	}

	token, err := utils.GenerateToken(cfg.JWTSecret, models.UserClaims{
		UserID: adminID,
		Email:  adminEmail,
		Role:   "admin",
	}, *ttl)
	if err != nil {
		log.Fatal("Failed to issue token: ", err)
	}
	fmt.Println(token)
}
