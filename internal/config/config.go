package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	MongoURI     string
	JWTSecret    string
	Port         string
	RateLimitRPM int    // requests per minute allowed on register/login
	LogFormat    string // "text" or "json"
}

// New loads configuration from environment variables, with a .env file as a
// development convenience.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		MongoURI:     os.Getenv("MONGODB_URI"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		Port:         os.Getenv("PORT"),
		RateLimitRPM: 10,
		LogFormat:    os.Getenv("LOG_FORMAT"),
	}

	if cfg.MongoURI == "" {
		log.Fatal("MONGODB_URI must be set")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitRPM = n
		}
	}

	return cfg
}
