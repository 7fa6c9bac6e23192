package config

import (
	"flag"
	"os"
)

type Config struct {
	RunAddress          string
	DatabaseURI         string
	BooksAddress        string
	BooksSandboxAddress string
	ProfilesPath        string
	DefaultCurrency     string
	Environment         string
	JWTSecret           string
}

func New() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "server address and port")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "postgres URI for the processed-keys ledger (empty = in-memory)")
	flag.StringVar(&cfg.BooksAddress, "b", "http://localhost:8081", "books API address")
	flag.StringVar(&cfg.BooksSandboxAddress, "sb", "http://localhost:8082", "books sandbox API address")
	flag.StringVar(&cfg.ProfilesPath, "p", "profiles.toml", "mapping profiles file")
	flag.StringVar(&cfg.DefaultCurrency, "c", "USD", "fallback currency code")
	flag.StringVar(&cfg.Environment, "e", "sandbox", "default books environment (sandbox or production)")
	flag.StringVar(&cfg.JWTSecret, "s", "super-secret-jwt-key", "jwt signing key")
	flag.Parse()

	cfg.RunAddress = getEnv("RUN_ADDRESS", cfg.RunAddress)
	cfg.DatabaseURI = getEnv("DATABASE_URI", cfg.DatabaseURI)
	cfg.BooksAddress = getEnv("BOOKS_API_ADDRESS", cfg.BooksAddress)
	cfg.BooksSandboxAddress = getEnv("BOOKS_SANDBOX_ADDRESS", cfg.BooksSandboxAddress)
	cfg.ProfilesPath = getEnv("MAPPING_PROFILES_PATH", cfg.ProfilesPath)
	cfg.DefaultCurrency = getEnv("DEFAULT_CURRENCY", cfg.DefaultCurrency)
	cfg.Environment = getEnv("BOOKS_ENVIRONMENT", cfg.Environment)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
