package config

import "os"

type Config struct {
	Env      string
	Port     string
	Auth     AuthConfig
	OAuth    OAuthConfig
	Postgres PostgresConfig
	CORS     CORSConfig
}

type AuthConfig struct {
	JWTSecret      string
	AccessTTL      string
	RefreshTTL     string
	CookieDomain   string
	CookieSecure   string
	CookieSameSite string
}

type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
	// RedirectBase is the externally visible base URL of this service,
	// used to build provider callback URLs.
	RedirectBase string
	// AppOrigin is the origin of the web application; the OAuth callback
	// page posts its result to this origin only.
	AppOrigin string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() Config {
	appOrigin := getenv("APP_ORIGIN", "http://localhost:3000")
	return Config{
		Env:  getenv("ENV", "development"),
		Port: getenv("PORT", "8080"),
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			AccessTTL:      getenv("ACCESS_TOKEN_TTL", "1h"),
			RefreshTTL:     getenv("REFRESH_TOKEN_TTL", "168h"),
			CookieDomain:   os.Getenv("AUTH_COOKIE_DOMAIN"),
			CookieSecure:   os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite: getenv("AUTH_COOKIE_SAMESITE", "strict"),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectBase:       getenv("OAUTH_REDIRECT_BASE", "http://localhost:8080"),
			AppOrigin:          appOrigin,
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{appOrigin},
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
