package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/klokku/calsync/pkg/formatter"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "CALSYNC_"

type Application struct {
	Host     string   `koanf:"host" validate:"required"`
	Google   Google   `koanf:"google"`
	Database Database `koanf:"db"`
	Redis    Redis    `koanf:"redis"`
	Sync     Sync     `koanf:"sync"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
}

type Database struct {
	Host   string `koanf:"host" validate:"required"`
	Port   int    `koanf:"port" validate:"min=1,max=65535"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name" validate:"required"`
	Schema string `koanf:"schema" validate:"required"`
}

// Redis is optional. Without a URL sync results are cached in memory.
type Redis struct {
	URL string        `koanf:"url"`
	TTL time.Duration `koanf:"ttl" validate:"min=0"`
}

type Sync struct {
	TimeZone       string                   `koanf:"timezone" validate:"required"`
	GroupThreshold int                      `koanf:"groupthreshold" validate:"min=1"`
	Workers        int                      `koanf:"workers" validate:"min=1,max=64"`
	MergeFields    []string                 `koanf:"mergefields" validate:"dive,oneof=summary description start end timeZone colorId reminders recurrence"`
	Reminder       formatter.ReminderConfig `koanf:"reminder"`
}

func defaults() Application {
	return Application{
		Host: "http://localhost:3000",
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			User:   "calsync",
			Pass:   "",
			Name:   "calsync",
			Schema: "calsync",
		},
		Redis: Redis{
			TTL: 24 * time.Hour,
		},
		Sync: Sync{
			TimeZone:       formatter.DefaultTimeZone,
			GroupThreshold: 3,
			Workers:        4,
			MergeFields:    []string{"description", "colorId", "reminders"},
			Reminder:       formatter.DefaultReminderConfig(),
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, envPrefix)), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}
	if err := app.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		return Application{}, err
	}

	return app, nil
}

func (a Application) Validate() error {
	if err := validator.New().Struct(a); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := time.LoadLocation(a.Sync.TimeZone); err != nil {
		return fmt.Errorf("config: unknown sync time zone %q", a.Sync.TimeZone)
	}
	return nil
}
