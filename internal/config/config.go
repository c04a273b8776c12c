package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DATABASE_"`
	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	Checkout  Checkout  `envPrefix:"CHECKOUT_"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
	Currency     string `env:"CURRENCY" envDefault:"USD"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT" envDefault:"sandbox"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type Database struct {
	Driver string `env:"DRIVER" envDefault:"sqlite"` // sqlite | mysql
	URL    string `env:"URL" envDefault:"payments.db"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret"`
}

// Checkout configures the cmd/checkout client.
type Checkout struct {
	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8080/api"`
	Token          string        `env:"TOKEN"`
	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"sqlite"` // memory | sqlite | redis
	StorePath      string        `env:"STORE_PATH" envDefault:"checkout.db"`
	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Namespace      string        `env:"NAMESPACE" envDefault:"default"`
	IntentTTL      time.Duration `env:"INTENT_TTL" envDefault:"24h"`
	CaptureTimeout time.Duration `env:"CAPTURE_TIMEOUT" envDefault:"30s"`
	RecheckDelay   time.Duration `env:"RECHECK_DELAY" envDefault:"2s"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
