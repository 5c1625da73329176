package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options are the global options shared by every command
type Options struct {
	Seed       string `long:"seed" env:"OIDC_SEED" default:"seed.yaml" description:"YAML seed with clients, resources and users"`
	Issuer     string `long:"issuer" env:"OIDC_ISSUER" description:"Issuer, overrides the seed setting"`
	SigningKey string `long:"signing-key" env:"OIDC_SIGNING_KEY" description:"PEM private key file; a fresh ECDSA key is generated when empty"`
	EnvFile    string `long:"env-file" default:".env" description:"Environment file loaded before flags are parsed"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"Log format"`

	Redis struct {
		Addr          string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for device flow, throttling and consent; memory when empty"`
		Password      string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB            int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
		KeyPrefix     string `long:"redis-key-prefix" env:"REDIS_KEY_PREFIX" default:"oidc:" description:"Prefix of every Redis key"`
		EncryptionKey string `long:"redis-encryption-key" env:"REDIS_ENCRYPTION_KEY" description:"Base64 AES-256 key for records at rest"`
	} `group:"Redis Options"`
}

var options Options

// newParser registers the commands on a parser over options
func newParser() *flags.Parser {
	parser := flags.NewParser(&options, flags.Default)
	parser.Usage = "[OPTIONS] <command>"

	mustAddCommand(parser, "token", "Validate a token request",
		"Runs the token request validator with the given grant parameters and prints the decision.", &tokenCommand{})
	mustAddCommand(parser, "validate", "Validate an access token",
		"Validates a JWT or reference access token. JWTs must be signed with --signing-key.", &validateCommand{})
	mustAddCommand(parser, "sign", "Sign access token claims",
		"Signs a JWT access token for a client with --signing-key, for use with validate.", &signCommand{})
	mustAddCommand(parser, "metadata", "Print authorization server metadata",
		"Prints the RFC 8414 metadata describing what the validators accept.", &metadataCommand{})

	return parser
}

func mustAddCommand(parser *flags.Parser, name, short, long string, data any) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		panic(fmt.Sprintf("failed to register command %s: %v", name, err))
	}
}

// loadEnvFile loads path into the environment. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// envFileFromArgs finds --env-file before go-flags runs, since env defaults
// are resolved during parsing
func envFileFromArgs(args []string) string {
	path := ".env"
	for i, arg := range args {
		if arg == "--env-file" && i+1 < len(args) {
			path = args[i+1]
		} else if value, ok := strings.CutPrefix(arg, "--env-file="); ok {
			path = value
		}
	}
	return path
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}
