package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"turmasniper/internal/components/configutil"
	"turmasniper/internal/scrapers/inforestudante"
)

const (
	PlaceholderUsername = "EMAIL_UC"
	PlaceholderPassword = "PASS_UC"

	DefaultPacingSeconds = 5
	DefaultMaxUnexpected = 10
)

var (
	// ErrTemplateCreated means no config existed and a template was written
	// in its place, nothing else should be attempted.
	ErrTemplateCreated    = errors.New("config template created, fill in your credentials")
	ErrMissingCredentials = errors.New("missing credentials")
)

type Smtp struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

// History is where attempts are recorded. A non-empty url points at a remote
// libsql database, otherwise file is a local sqlite database. Both empty
// disables recording.
type History struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (h History) Enabled() bool {
	return h.File != "" || h.Url != ""
}

type Config struct {
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	BaseUrl         string   `json:"base_url"`
	RelevantZones   []string `json:"relevant_zones"`
	// PacingSeconds and MaxUnexpected are nil unless set in a file, so a 0
	// written by the operator is kept and not mistaken for a missing value.
	PacingSeconds   *float64 `json:"pacing_seconds"`
	MaxUnexpected   *int     `json:"max_unexpected"`
	PreferencesFile string   `json:"preferences_file"`
	SuccessLog      string   `json:"success_log"`
	History         History  `json:"history"`
	// RateLimit is in requests per second.
	RateLimit      float64 `json:"rate_limit"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	Smtp           *Smtp   `json:"smtp"`
}

func Defaults() Config {
	return Config{
		BaseUrl:         "https://inforestudante.uc.pt",
		RelevantZones:   inforestudante.DefaultRelevantZones,
		PreferencesFile: "turmas.json",
		SuccessLog:      "success.log",
		RateLimit:       2,
		TimeoutSeconds:  30,
	}
}

// Pacing is the delay between attempts, 0 means none.
func (c Config) Pacing() time.Duration {
	seconds := float64(DefaultPacingSeconds)
	if c.PacingSeconds != nil {
		seconds = *c.PacingSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

// UnexpectedLimit is how many unexpected redirects in a row abandon a unit.
func (c Config) UnexpectedLimit() int {
	if c.MaxUnexpected == nil {
		return DefaultMaxUnexpected
	}
	return *c.MaxUnexpected
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) Credentials() inforestudante.Credentials {
	return inforestudante.Credentials{Username: c.Username, Password: c.Password}
}

// Validate fails with ErrMissingCredentials when either credential is
// missing or still the template placeholder.
func (c Config) Validate() error {
	var missing []string
	if c.Username == "" || c.Username == PlaceholderUsername {
		missing = append(missing, "username")
	}
	if c.Password == "" || c.Password == PlaceholderPassword {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingCredentials, missing)
	}
	if c.PacingSeconds != nil && *c.PacingSeconds < 0 {
		return fmt.Errorf("pacing_seconds must not be negative, got %v", *c.PacingSeconds)
	}
	if c.MaxUnexpected != nil && *c.MaxUnexpected < 1 {
		return fmt.Errorf("max_unexpected must be at least 1, got %d", *c.MaxUnexpected)
	}
	if c.Smtp != nil && (c.Smtp.Server == "" || len(c.Smtp.To) == 0) {
		return fmt.Errorf("smtp: server and to are required when smtp is set")
	}
	return nil
}

const template = `{
    // inforestudante credentials
    "username": "EMAIL_UC",
    "password": "PASS_UC",

    // seconds between attempts on the same queue, 0 retries immediately
    // "pacing_seconds": 5,
    // unexpected redirects in a row before a section is given up, at least 1
    // "max_unexpected": 10,
    "preferences_file": "turmas.json",
    "success_log": "success.log",
    "history": {
        "file": "history.db",
    },

    // uncomment to be emailed on every successful registration
    // "smtp": {
    //     "server": "smtp.gmail.com",
    //     "port": 587,
    //     "email_address": "",
    //     "password": "",
    //     "to": [],
    // },
}
`

// WriteTemplate writes a config with placeholder credentials to `path`.
func WriteTemplate(path string) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(template), 0600)
}

// Load reads the config at `path` (merged with its .local override) on top
// of Defaults. If neither file exists a template is written and
// ErrTemplateCreated is returned.
func Load(path string) (Config, error) {
	cfg := Defaults()
	err := configutil.ReadConfig(path, &cfg)
	if errors.Is(err, os.ErrNotExist) {
		err = WriteTemplate(path)
		if err != nil {
			return Config{}, fmt.Errorf("write config template: %w", err)
		}
		return Config{}, fmt.Errorf("%w: %s", ErrTemplateCreated, path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
