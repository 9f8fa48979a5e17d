package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"vault-backend/internal/config"
	"vault-backend/internal/handlers"
	"vault-backend/internal/utils"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		role       = flag.String("role", "user", "Token role: user or admin")
		address    = flag.String("address", "", "User address (role=user)")
		username   = flag.String("username", "admin", "Admin username (role=admin)")
		ttl        = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	var token string
	now := time.Now()
	switch *role {
	case "user":
		addr, err := utils.ParseAddress(*address)
		if err != nil {
			fmt.Printf("Error: -address: %v\n", err)
			os.Exit(1)
		}
		token, err = handlers.IssueUserToken([]byte(cfg.Auth.JWTSecret), addr, *ttl, now)
		if err != nil {
			fmt.Printf("Error generating token: %v\n", err)
			os.Exit(1)
		}
	case "admin":
		token, err = handlers.IssueAdminToken([]byte(cfg.Admin.JWTSecret), *username, *ttl, now)
		if err != nil {
			fmt.Printf("Error generating token: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Error: unknown role %q\n", *role)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Printf("JWT Token (%s)\n", *role)
	fmt.Println("============================================================")
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("Expires: %s\n", now.Add(*ttl).UTC().Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:%d/api/my/balances\n", token, cfg.Server.Port)
}
