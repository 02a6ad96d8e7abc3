package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"interview_room/native/internal/config"
	"interview_room/native/internal/domain"
	"interview_room/native/internal/signalserver"

	"github.com/gin-gonic/gin"
)

const helpText = `signald - Signaling server for two-party interview rooms

Usage:
  signald                     Run the server
  signald token ROOM ROLE     Print a signed token for ROOM and ROLE (needs JWT_SECRET)

Environment Variables:
  PORT             Listen port (default 5000)
  ENVIRONMENT      "production" enables gin release mode
  ALLOWED_ORIGINS  Comma separated browser origins (default: any)
  JWT_SECRET       Require HS256 tokens on /ws when set
`

const tokenTTL = 24 * time.Hour

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.SetOutput(os.Stderr)
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg := config.LoadServer()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		printToken(cfg, os.Args[2:])
		return
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(signalserver.OriginFilter(cfg.AllowedOrigins))
	signalserver.New(cfg.JWTSecret).Register(router)

	if cfg.JWTSecret == "" {
		log.Printf("[signald] JWT_SECRET not set, /ws accepts unauthenticated connections")
	}
	log.Printf("[signald] listening on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("[signald] server: %v", err)
	}
}

func printToken(cfg *config.ServerConfig, args []string) {
	if len(args) != 2 {
		log.Fatalf("[signald] usage: signald token ROOM ROLE")
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("[signald] JWT_SECRET is required to mint tokens")
	}
	role, err := domain.ParseRole(args[1])
	if err != nil {
		log.Fatalf("[signald] %v", err)
	}
	token, err := signalserver.MintToken(cfg.JWTSecret, domain.RoomID(args[0]), role, tokenTTL)
	if err != nil {
		log.Fatalf("[signald] %v", err)
	}
	fmt.Println(token)
}
