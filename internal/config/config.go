package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	PoolSize    int
	Prefix      string
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	URLTTL          time.Duration
}

type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// FeeConfig holds the registration fees applied when fees are derived
// from a course.
type FeeConfig struct {
	CourseRegistration  decimal.Decimal
	StudentRegistration decimal.Decimal
	DefaultCourseType   string
}

type ScheduleConfig struct {
	Location     *time.Location
	ReminderHour int
	LeadDays     int
	ReminderCron string
	SweepBatch   int
}

type AppConfig struct {
	Port     string
	LogLevel string
	Postgres PostgresConfig
	Redis    RedisConfig
	S3       S3Config
	SMTP     SMTPConfig
	Fees     FeeConfig
	Schedule ScheduleConfig

	ExportDir         string
	InvoiceDir        string
	FilesPublicPrefix string
	ExternalURL       string
	InvoiceStorage    string
	IdempotencyTTL    time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal value %q: %v", s, err)
	}
	return d
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func mustLocation(s string) *time.Location {
	loc, err := time.LoadLocation(s)
	if err != nil {
		log.Fatalf("invalid timezone %q: %v", s, err)
	}
	return loc
}

func Load() AppConfig {
	return AppConfig{
		Port:     getenv("APP_PORT", "8010"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     mustAtoi(getenv("PG_PORT", "5432")),
			User:     getenv("PG_USER", "root"),
			Password: getenv("PG_PASSWORD", "hello-world"),
			DBName:   getenv("PG_DB", "academy"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
			MaxConns: mustAtoi(getenv("PG_MAX_CONNS", "20")),
		},
		Redis: RedisConfig{
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			PoolSize:    mustAtoi(getenv("REDIS_POOL_SIZE", "0")),
			Prefix:      getenv("REDIS_PREFIX", "academy_ledger_"),
		},
		S3: S3Config{
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "invoices"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", "invoices/"),
			URLTTL:          mustDuration(getenv("S3_URL_TTL", "168h")),
		},
		SMTP: SMTPConfig{
			Enabled:  mustBool(getenv("EMAIL_SENDER_ENABLED", "false")),
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     mustAtoi(getenv("SMTP_PORT", "587")),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "billing@academy.local"),
		},
		Fees: FeeConfig{
			CourseRegistration:  mustDecimal(getenv("FEE_COURSE_REGISTRATION", "1000")),
			StudentRegistration: mustDecimal(getenv("FEE_STUDENT_REGISTRATION", "500")),
			DefaultCourseType:   getenv("FEE_DEFAULT_COURSE_TYPE", "REGULAR"),
		},
		Schedule: ScheduleConfig{
			Location:     mustLocation(getenv("LEDGER_TIMEZONE", "UTC")),
			ReminderHour: mustAtoi(getenv("REMINDER_HOUR", "9")),
			LeadDays:     mustAtoi(getenv("REMINDER_LEAD_DAYS", "3")),
			ReminderCron: getenv("REMINDER_CRON", "*/15 * * * *"),
			SweepBatch:   mustAtoi(getenv("REMINDER_SWEEP_BATCH", "200")),
		},
		ExportDir:         getenv("EXPORT_DIR", "./exports"),
		InvoiceDir:        getenv("INVOICE_DIR", "./invoices"),
		FilesPublicPrefix: getenv("FILES_PUBLIC_PREFIX", "/files"),
		ExternalURL:       getenv("EXTERNAL_URL", ""),
		InvoiceStorage:    getenv("INVOICE_STORAGE", "local"),
		IdempotencyTTL:    mustDuration(getenv("IDEMPOTENCY_TTL", "24h")),
	}
}
