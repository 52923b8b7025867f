package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// fundingCeiling is the hard per-call cap on admin funding and deposits.
// FUNDING_MAX may lower it but never raise it.
var fundingCeiling = decimal.NewFromInt(100000)

type Config struct {
	HTTPAddr          string
	DBDSN             string
	RedisAddr         string
	JWTIssuer         string
	JWTSecret         string
	JWTTTL            time.Duration
	InternalToken     string
	WebSocketOrigin   string
	AdminUsername     string
	AdminPasswordHash string
	FundingMax        decimal.Decimal
	CommissionRate    decimal.Decimal
	PriceFeedInterval time.Duration
	SimFeed           bool
	KYCAllowPending   bool
	LogLevel          string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	c.DBDSN = strings.TrimSpace(os.Getenv("DB_DSN"))
	c.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	c.JWTIssuer = os.Getenv("JWT_ISSUER")
	if c.JWTIssuer == "" {
		c.JWTIssuer = "paperdesk"
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.JWTTTL = 24 * time.Hour
	if raw := os.Getenv("JWT_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c, fmt.Errorf("invalid JWT_TTL: %w", err)
		}
		c.JWTTTL = d
	}
	c.InternalToken = os.Getenv("INTERNAL_API_TOKEN")
	if c.InternalToken == "" {
		missing = append(missing, "INTERNAL_API_TOKEN")
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	c.AdminUsername = os.Getenv("ADMIN_USERNAME")
	if c.AdminUsername == "" {
		missing = append(missing, "ADMIN_USERNAME")
	}
	c.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	if c.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD_HASH")
	}
	max := os.Getenv("FUNDING_MAX")
	if max == "" {
		max = "100000"
	}
	fm, err := decimal.NewFromString(max)
	if err != nil || !fm.IsPositive() {
		return c, errors.New("invalid FUNDING_MAX")
	}
	if fm.GreaterThan(fundingCeiling) {
		return c, fmt.Errorf("invalid FUNDING_MAX: %s exceeds %s", fm, fundingCeiling)
	}
	c.FundingMax = fm
	rate := os.Getenv("COMMISSION_RATE")
	if rate == "" {
		rate = "0"
	}
	cr, err := decimal.NewFromString(rate)
	if err != nil || cr.IsNegative() {
		return c, errors.New("invalid COMMISSION_RATE")
	}
	c.CommissionRate = cr
	c.PriceFeedInterval = 3 * time.Second
	if raw := os.Getenv("PRICE_FEED_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return c, errors.New("invalid PRICE_FEED_INTERVAL")
		}
		c.PriceFeedInterval = d
	}
	if c.SimFeed, err = boolEnv("SIM_FEED", true); err != nil {
		return c, err
	}
	if c.KYCAllowPending, err = boolEnv("KYC_ALLOW_PENDING", false); err != nil {
		return c, err
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
